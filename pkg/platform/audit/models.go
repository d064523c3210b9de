package audit

import (
	"time"

	id "redeem/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so stores
// can apply different retention.
type EventCategory string

const (
	// CategoryCompliance covers transitions with regulatory significance:
	// every sign-off and every lifecycle change on a redemption.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted after a committed transition. It is transport-agnostic so
// stores and sinks can fan out.
type Event struct {
	ID           string
	Category     EventCategory
	Timestamp    time.Time
	RedemptionID id.RequestID
	InvestorID   id.InvestorID
	// ActorID is the approver who caused the transition, empty for system actions.
	ActorID  id.ApproverID
	Action   string
	Decision string // resulting status
	Reason   string
	// RequestID is the HTTP correlation id, not the redemption id.
	RequestID string
	Sequence  int64
	ClientIP  string
	// Device is the parsed User-Agent summary of the caller.
	Device string
}

type AuditEvent string

const (
	EventRedemptionCreated       AuditEvent = "redemption_created"
	EventRedemptionApproved      AuditEvent = "redemption_approved"
	EventRedemptionQuorumReached AuditEvent = "redemption_quorum_reached"
	EventRedemptionRejected      AuditEvent = "redemption_rejected"
	EventRedemptionStatusChanged AuditEvent = "redemption_status_changed"

	EventSubscriberDisconnected AuditEvent = "subscriber_disconnected"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventRedemptionCreated:       CategoryCompliance,
	EventRedemptionApproved:      CategoryCompliance,
	EventRedemptionQuorumReached: CategoryCompliance,
	EventRedemptionRejected:      CategoryCompliance,
	EventRedemptionStatusChanged: CategoryCompliance,

	EventSubscriberDisconnected: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
