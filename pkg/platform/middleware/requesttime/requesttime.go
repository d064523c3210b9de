// Package requesttime provides middleware for request-scoped time.
// All operations within a single HTTP request use the same "now" timestamp so
// approval times, audit records and event stamps agree.
package requesttime

import (
	"net/http"
	"time"

	"redeem/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request
// and stores it in the context.
func Middleware(next http.Handler) http.Handler {
	return middleware(time.Now)(next)
}

func middleware(clock func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), clock().UTC())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
