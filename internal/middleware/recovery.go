package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/pkg/utils"
)

// Recovery turns a panic in a handler into a 500 JSON response.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				utils.Error(w, apperrors.InternalError("an unexpected error occurred"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
