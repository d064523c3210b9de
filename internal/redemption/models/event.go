package models

import (
	"time"

	id "redeem/pkg/domain"
)

// EventKind names a domain transition.
type EventKind string

const (
	EventCreated       EventKind = "Created"
	EventApproved      EventKind = "Approved"
	EventQuorumReached EventKind = "QuorumReached"
	EventRejected      EventKind = "Rejected"
	EventStatusChanged EventKind = "StatusChanged"
)

// Event is an immutable record of one transition on one request.
type Event struct {
	RequestID  id.RequestID `json:"request_id"`
	Kind       EventKind    `json:"kind"`
	OccurredAt time.Time    `json:"occurred_at"`
	Sequence   int64        `json:"sequence"`
	Payload    Notification `json:"payload"`
}

// Notification is the payload observers receive.
type Notification struct {
	RequestID  id.RequestID `json:"request_id"`
	Kind       EventKind    `json:"kind"`
	OccurredAt time.Time    `json:"occurred_at"`
	// Sequence is the commit order within the request, starting at 1.
	Sequence          int64         `json:"sequence"`
	Status            Status        `json:"status"`
	ApprovedCount     int           `json:"approved_count"`
	RequiredApprovals int           `json:"required_approvals"`
	ApproverID        id.ApproverID `json:"approver_id,omitempty"`
	PreviousStatus    Status        `json:"previous_status,omitempty"`
	Reason            string        `json:"reason,omitempty"`
}

// EventBuilder stamps events from the request state they describe. It must be
// used inside the commit so sequences follow the version order.
type EventBuilder struct {
	req    *RedemptionRequest
	now    time.Time
	events []Event
}

// NewEventBuilder starts an event list for one mutation of req.
func NewEventBuilder(req *RedemptionRequest, now time.Time) *EventBuilder {
	return &EventBuilder{req: req, now: now}
}

// Add appends an event of kind, reserving the next sequence on the request.
func (b *EventBuilder) Add(kind EventKind, approverID id.ApproverID, previous Status, reason string) {
	seq := b.req.NextSequence()
	n := Notification{
		RequestID:         b.req.ID,
		Kind:              kind,
		OccurredAt:        b.now,
		Sequence:          seq,
		Status:            b.req.Status,
		ApprovedCount:     b.req.ApprovedCount(),
		RequiredApprovals: b.req.RequiredApprovals,
		ApproverID:        approverID,
		PreviousStatus:    previous,
		Reason:            reason,
	}
	b.events = append(b.events, Event{
		RequestID:  b.req.ID,
		Kind:       kind,
		OccurredAt: b.now,
		Sequence:   seq,
		Payload:    n,
	})
}

// Events returns the events in the order they were added.
func (b *EventBuilder) Events() []Event {
	return b.events
}

// Now is the time stamped on every event of this mutation.
func (b *EventBuilder) Now() time.Time {
	return b.now
}
