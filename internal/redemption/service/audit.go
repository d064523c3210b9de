package service

import (
	"context"

	"redeem/internal/redemption/models"
	"redeem/pkg/platform/audit"
	"redeem/pkg/requestcontext"
)

var auditActions = map[models.EventKind]audit.AuditEvent{
	models.EventCreated:       audit.EventRedemptionCreated,
	models.EventApproved:      audit.EventRedemptionApproved,
	models.EventQuorumReached: audit.EventRedemptionQuorumReached,
	models.EventRejected:      audit.EventRedemptionRejected,
	models.EventStatusChanged: audit.EventRedemptionStatusChanged,
}

// emitAudit records committed events. The commit already happened, so a
// failed emission is logged and the operation still succeeds.
func (s *Service) emitAudit(ctx context.Context, req *models.RedemptionRequest, events []models.Event) {
	if s.auditPublisher == nil {
		return
	}
	for _, ev := range events {
		action := auditActions[ev.Kind]
		err := s.auditPublisher.Emit(ctx, audit.Event{
			Timestamp:    ev.OccurredAt,
			RedemptionID: req.ID,
			InvestorID:   req.InvestorID,
			ActorID:      ev.Payload.ApproverID,
			Action:       string(action),
			Decision:     string(ev.Payload.Status),
			Reason:       ev.Payload.Reason,
			RequestID:    requestcontext.RequestID(ctx),
			Sequence:     ev.Sequence,
			ClientIP:     requestcontext.ClientIP(ctx),
			Device:       requestcontext.Device(ctx),
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to emit audit event",
				"request_id", req.ID,
				"action", action,
				"sequence", ev.Sequence,
				"error", err,
			)
		}
	}
}
