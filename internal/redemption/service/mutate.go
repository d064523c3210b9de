package service

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"redeem/internal/redemption/models"
	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
	"redeem/pkg/platform/sentinel"
	"redeem/pkg/requestcontext"
)

// transition validates and applies one change to a private copy, recording
// the events it causes. It must be deterministic in its input.
type transition func(req *models.RedemptionRequest, events *models.EventBuilder) error

// commit runs a read-check-swap loop. Each attempt re-reads the committed
// state, so exactly one racing writer observes any given transition. Domain
// errors stop the loop at once; only version conflicts are retried.
func (s *Service) commit(ctx context.Context, op string, requestID id.RequestID, apply transition) (*models.RedemptionRequest, []models.Event, error) {
	now := requestcontext.Now(ctx)
	var events []models.Event
	attempt := 0

	operation := func() (*models.RedemptionRequest, error) {
		attempt++
		current, err := s.store.Get(ctx, requestID)
		if err != nil {
			return nil, backoff.Permanent(translateStoreError(err, "failed to load redemption request"))
		}

		updated, err := s.store.CompareAndSwap(ctx, requestID, current.Version, func(next *models.RedemptionRequest) error {
			b := models.NewEventBuilder(next, now)
			if err := apply(next, b); err != nil {
				return err
			}
			events = b.Events()
			return nil
		})
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncrementConflict(op)
			s.logger.DebugContext(ctx, "redemption version conflict, retrying",
				"request_id", requestID,
				"operation", op,
				"attempt", attempt,
				"expected_version", current.Version,
			)
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(translateStoreError(err, "failed to update redemption request"))
		}
		return updated, nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(s.newBackOff(), uint64(s.retry.MaxAttempts-1)),
		ctx,
	)
	updated, err := backoff.RetryWithData(operation, policy)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrConflict):
			s.metrics.IncrementExhausted(op)
			return nil, nil, dErrors.Wrap(err, dErrors.CodeExhausted, "request is too contended, retry later")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			var de *dErrors.Error
			if errors.As(err, &de) {
				return nil, nil, err
			}
			return nil, nil, dErrors.Wrap(err, dErrors.CodeTimeout, "operation cancelled")
		}
		return nil, nil, err
	}
	return updated, events, nil
}

func (s *Service) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialBackoff
	b.MaxInterval = s.retry.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
