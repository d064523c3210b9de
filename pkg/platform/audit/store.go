package audit

import (
	"context"

	id "redeem/pkg/domain"
)

// Store persists audit events. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByRedemption(ctx context.Context, redemptionID id.RequestID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
