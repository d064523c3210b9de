package models

import (
	dErrors "redeem/pkg/domain-errors"
)

// Status is the lifecycle state of a redemption request. The string values are
// stable across serialization boundaries.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusApproved   Status = "Approved"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusRejected   Status = "Rejected"
)

// lifecycle is the fixed forward ordering. Rejected sits outside it.
var lifecycle = []Status{StatusPending, StatusApproved, StatusProcessing, StatusCompleted}

// ParseStatus validates a status from external input.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidArgument, "unknown status "+s)
	}
	return st, nil
}

// IsValid reports whether s is one of the five lifecycle values.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusProcessing, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further domain transition is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// Successor returns the immediate next status in the forward lifecycle.
// ok is false for terminal states.
func (s Status) Successor() (next Status, ok bool) {
	for i, st := range lifecycle {
		if st == s && i+1 < len(lifecycle) {
			return lifecycle[i+1], true
		}
	}
	return "", false
}

// QuorumMet reports whether the status is one a request may hold once its
// approved count has reached the threshold.
func (s Status) QuorumMet() bool {
	return s == StatusApproved || s == StatusProcessing || s == StatusCompleted
}

func (s Status) String() string {
	return string(s)
}
