package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aditya/campus-rides/internal/auth"
	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/pkg/utils"
)

// SessionCookie carries the session token for page routes.
const SessionCookie = "campus_session"

type ctxKey int

const identityKey ctxKey = iota

// Authenticator resolves the caller from a bearer token or the session cookie.
type Authenticator struct {
	auth   auth.Service
	logger *slog.Logger
}

func NewAuthenticator(svc auth.Service, logger *slog.Logger) *Authenticator {
	return &Authenticator{auth: svc, logger: logger}
}

// Authenticate attaches the caller's identity when a valid token is present.
// Requests without one pass through anonymously; RequireAuth decides later.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFrom(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := a.auth.Verify(r.Context(), token)
		if err != nil {
			a.logger.Debug("rejected session token", "path", r.URL.Path, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		annotateTransaction(r, id.Profile.ID, string(id.Profile.Role))
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAuth answers 401 when no identity was attached.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFrom(r.Context()) == nil {
			utils.Error(w, apperrors.Unauthorized("sign in required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole answers 403 when the caller's account has another role.
func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFrom(r.Context())
			if id == nil {
				utils.Error(w, apperrors.Unauthorized("sign in required"))
				return
			}
			if id.Profile.Role != role {
				utils.Error(w, apperrors.Forbidden("this action needs a "+string(role)+" account"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithIdentity(ctx context.Context, id *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the authenticated caller, or nil.
func IdentityFrom(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityKey).(*auth.Identity)
	return id
}

// TokenFrom prefers the Authorization header over the cookie.
func TokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}
