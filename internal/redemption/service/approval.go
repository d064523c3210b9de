package service

import (
	"context"
	"strings"
	"time"

	"redeem/internal/redemption/models"
	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
)

// Approve records approverID's sign-off. Checks run in this order: not found,
// already finalized, not an approver, already approved. When this commit is
// the one that crosses the threshold it also emits QuorumReached and
// StatusChanged(Pending→Approved).
func (s *Service) Approve(ctx context.Context, requestID id.RequestID, approverID id.ApproverID) (*models.RedemptionRequest, []models.Event, error) {
	const op = "approve"
	ctx, span := s.startSpan(ctx, op, requestID, approverID)
	start := time.Now()

	updated, events, err := s.commit(ctx, op, requestID, func(req *models.RedemptionRequest, b *models.EventBuilder) error {
		if err := req.CanApprove(approverID); err != nil {
			return err
		}
		previous := req.Status
		outcome := req.ApplyApproval(approverID, b.Now())
		b.Add(models.EventApproved, approverID, "", "")
		if outcome.Reached {
			b.Add(models.EventQuorumReached, approverID, "", "")
			b.Add(models.EventStatusChanged, approverID, previous, "")
		}
		return nil
	})
	s.finish(ctx, span, op, start, requestID, approverID, err)
	if err != nil {
		return nil, nil, err
	}
	s.afterCommit(ctx, updated, events)
	return updated, events, nil
}

// Reject finalizes the request as Rejected. Approvers who already approved
// may still reject while the request is open.
func (s *Service) Reject(ctx context.Context, requestID id.RequestID, approverID id.ApproverID, reason string) (*models.RedemptionRequest, []models.Event, error) {
	const op = "reject"
	ctx, span := s.startSpan(ctx, op, requestID, approverID)
	start := time.Now()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		err := dErrors.New(dErrors.CodeInvalidArgument, "rejection reason cannot be blank")
		s.finish(ctx, span, op, start, requestID, approverID, err)
		return nil, nil, err
	}

	updated, events, err := s.commit(ctx, op, requestID, func(req *models.RedemptionRequest, b *models.EventBuilder) error {
		if err := req.CanReject(approverID, reason); err != nil {
			return err
		}
		previous := req.ApplyRejection(approverID, reason, b.Now())
		b.Add(models.EventRejected, approverID, "", reason)
		b.Add(models.EventStatusChanged, approverID, previous, reason)
		return nil
	})
	s.finish(ctx, span, op, start, requestID, approverID, err)
	if err != nil {
		return nil, nil, err
	}
	s.afterCommit(ctx, updated, events)
	return updated, events, nil
}

// AdvanceLifecycle performs an operational move to the immediate successor
// (Approved→Processing→Completed).
func (s *Service) AdvanceLifecycle(ctx context.Context, requestID id.RequestID, target models.Status) (*models.RedemptionRequest, error) {
	const op = "advance"
	ctx, span := s.startSpan(ctx, op, requestID, "")
	start := time.Now()

	updated, events, err := s.commit(ctx, op, requestID, func(req *models.RedemptionRequest, b *models.EventBuilder) error {
		if err := req.CanAdvance(target); err != nil {
			return err
		}
		previous := req.ApplyAdvance(target, b.Now())
		b.Add(models.EventStatusChanged, "", previous, "")
		return nil
	})
	s.finish(ctx, span, op, start, requestID, "", err)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, updated, events)
	return updated, nil
}
