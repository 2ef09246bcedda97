package middleware

import (
	"net/http"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelic wraps each request in an APM transaction. Transactions are renamed
// after routing so they group by pattern, and the caller's role is attached
// once authentication has run.
func NewRelic(app *newrelic.Application) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if app == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			txn := app.StartTransaction(r.Method + " " + r.URL.Path)
			defer txn.End()

			txn.SetWebRequestHTTP(r)
			w = txn.SetWebResponse(w)
			r = newrelic.RequestWithTransactionContext(r, txn)

			next.ServeHTTP(w, r)

			txn.SetName(r.Method + " " + routePattern(r))
		})
	}
}

// annotateTransaction records who made the request on the current transaction.
func annotateTransaction(r *http.Request, id string, role string) {
	txn := newrelic.FromContext(r.Context())
	if txn == nil {
		return
	}
	txn.AddAttribute("user.id", id)
	txn.AddAttribute("user.role", role)
}
