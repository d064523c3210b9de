package testutil

import (
	"context"
	"net/http"
	"time"

	id "redeem/pkg/domain"
	"redeem/pkg/requestcontext"
)

// WithApproverID adds an authenticated approver to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// Invalid ids are silently ignored.
func WithApproverID(req *http.Request, approverID string) *http.Request {
	parsed, err := id.ParseApproverID(approverID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithApproverID(req.Context(), parsed))
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
