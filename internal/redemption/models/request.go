package models

import (
	"time"

	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
)

// RedemptionRequest is the aggregate root for a redemption awaiting sign-off.
//
// Invariants:
//   - Status == Rejected iff Rejection != nil; Rejected never transitions again
//   - ApprovedCount() >= RequiredApprovals implies Status is Approved, Processing or Completed
//   - Approvers membership and order are fixed at construction; ids are unique
//   - An approver flips Approved false→true at most once and never back
//   - Version increases by one on every committed mutation (owned by the store)
//   - Sequence is the last event sequence assigned for this request
type RedemptionRequest struct {
	ID                id.RequestID      `json:"id"`
	InvestorID        id.InvestorID     `json:"investor_id,omitempty"`
	Status            Status            `json:"status"`
	RequiredApprovals int               `json:"required_approvals"`
	Approvers         []Approver        `json:"approvers"`
	RequestedAt       time.Time         `json:"requested_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	Rejection         *Rejection        `json:"rejection,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Version           int64             `json:"version"`
	Sequence          int64             `json:"sequence"`
}

// Approver is one sign-off slot on a request.
type Approver struct {
	ID         id.ApproverID `json:"id"`
	Approved   bool          `json:"approved"`
	ApprovedAt *time.Time    `json:"approved_at,omitempty"`
}

// Rejection records why and by whom a request was rejected.
type Rejection struct {
	Reason     string        `json:"reason"`
	RejectedBy id.ApproverID `json:"rejected_by"`
	RejectedAt time.Time     `json:"rejected_at"`
}

// NewRedemptionRequest builds a Pending request after validating its shape.
func NewRedemptionRequest(
	requestID id.RequestID,
	investorID id.InvestorID,
	approverIDs []id.ApproverID,
	requiredApprovals int,
	metadata map[string]string,
	now time.Time,
) (*RedemptionRequest, error) {
	if requestID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "request id cannot be empty")
	}
	if len(approverIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "approvers cannot be empty")
	}
	if requiredApprovals <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "required_approvals must be positive")
	}
	if requiredApprovals > len(approverIDs) {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "required_approvals cannot exceed the number of approvers")
	}

	seen := make(map[id.ApproverID]struct{}, len(approverIDs))
	approvers := make([]Approver, 0, len(approverIDs))
	for _, a := range approverIDs {
		if a == "" {
			return nil, dErrors.New(dErrors.CodeInvalidArgument, "approver id cannot be empty")
		}
		if _, dup := seen[a]; dup {
			return nil, dErrors.New(dErrors.CodeInvalidArgument, "duplicate approver "+string(a))
		}
		seen[a] = struct{}{}
		approvers = append(approvers, Approver{ID: a})
	}

	var meta map[string]string
	if len(metadata) > 0 {
		meta = make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}

	return &RedemptionRequest{
		ID:                requestID,
		InvestorID:        investorID,
		Status:            StatusPending,
		RequiredApprovals: requiredApprovals,
		Approvers:         approvers,
		RequestedAt:       now,
		UpdatedAt:         now,
		Metadata:          meta,
	}, nil
}

// Clone returns a deep copy so stores never hand out shared mutable state.
func (r *RedemptionRequest) Clone() *RedemptionRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Approvers = make([]Approver, len(r.Approvers))
	for i, a := range r.Approvers {
		c.Approvers[i] = a
		if a.ApprovedAt != nil {
			at := *a.ApprovedAt
			c.Approvers[i].ApprovedAt = &at
		}
	}
	if r.Rejection != nil {
		rej := *r.Rejection
		c.Rejection = &rej
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ApprovedCount is the number of approvers who have signed off.
func (r *RedemptionRequest) ApprovedCount() int {
	n := 0
	for _, a := range r.Approvers {
		if a.Approved {
			n++
		}
	}
	return n
}

// IsRejected reports whether the request carries a rejection.
func (r *RedemptionRequest) IsRejected() bool {
	return r.Rejection != nil
}

// approverIndex returns the position of approverID, or -1.
func (r *RedemptionRequest) approverIndex(approverID id.ApproverID) int {
	for i, a := range r.Approvers {
		if a.ID == approverID {
			return i
		}
	}
	return -1
}

// HasApprover reports whether approverID is a member of the approver list.
func (r *RedemptionRequest) HasApprover(approverID id.ApproverID) bool {
	return r.approverIndex(approverID) >= 0
}

// ApproverIDs returns the approver ids in their fixed order.
func (r *RedemptionRequest) ApproverIDs() []id.ApproverID {
	ids := make([]id.ApproverID, len(r.Approvers))
	for i, a := range r.Approvers {
		ids[i] = a.ID
	}
	return ids
}

// ensureOpen rejects any operation on a terminal request.
func (r *RedemptionRequest) ensureOpen() error {
	if r.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeAlreadyFinalized, "request is already "+r.Status.String())
	}
	return nil
}

// ensureMember rejects approvers that are not on the request.
func (r *RedemptionRequest) ensureMember(approverID id.ApproverID) error {
	if !r.HasApprover(approverID) {
		return dErrors.New(dErrors.CodeNotAnApprover, "approver "+string(approverID)+" is not on this request")
	}
	return nil
}

// CanApprove checks the approve preconditions in the order callers observe them:
// finalized, membership, then duplicate sign-off.
// Use with ApplyApproval inside a compare-and-swap mutator.
func (r *RedemptionRequest) CanApprove(approverID id.ApproverID) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	if err := r.ensureMember(approverID); err != nil {
		return err
	}
	if r.Approvers[r.approverIndex(approverID)].Approved {
		return dErrors.New(dErrors.CodeAlreadyApproved, "approver "+string(approverID)+" has already approved")
	}
	return nil
}

// ApplyApproval records the sign-off and moves Pending to Approved when this
// approval is the one that crosses the threshold.
// Call CanApprove first.
func (r *RedemptionRequest) ApplyApproval(approverID id.ApproverID, now time.Time) QuorumOutcome {
	before := r.ApprovedCount()
	at := now
	i := r.approverIndex(approverID)
	r.Approvers[i].Approved = true
	r.Approvers[i].ApprovedAt = &at
	r.UpdatedAt = now

	outcome := EvaluateQuorum(before, r.ApprovedCount(), r.RequiredApprovals, r.Status)
	if outcome.Reached {
		r.Status = StatusApproved
	}
	return outcome
}

// CanReject checks the reject preconditions. Approvers who already signed
// off may still reject while the request is open.
func (r *RedemptionRequest) CanReject(approverID id.ApproverID, reason string) error {
	if reason == "" {
		return dErrors.New(dErrors.CodeInvalidArgument, "rejection reason cannot be empty")
	}
	if err := r.ensureOpen(); err != nil {
		return err
	}
	return r.ensureMember(approverID)
}

// ApplyRejection finalizes the request as Rejected. Approver flags are kept
// as the historical record.
// Call CanReject first.
func (r *RedemptionRequest) ApplyRejection(approverID id.ApproverID, reason string, now time.Time) Status {
	previous := r.Status
	r.Status = StatusRejected
	r.Rejection = &Rejection{Reason: reason, RejectedBy: approverID, RejectedAt: now}
	r.UpdatedAt = now
	return previous
}

// CanAdvance checks an operational lifecycle move. Only the immediate
// successor is allowed and Pending→Approved belongs to the quorum alone.
func (r *RedemptionRequest) CanAdvance(target Status) error {
	if !target.IsValid() {
		return dErrors.New(dErrors.CodeInvalidArgument, "unknown target status")
	}
	if r.Status == StatusRejected {
		return dErrors.New(dErrors.CodeInvalidTransition, "a rejected request cannot change status")
	}
	if r.Status == StatusPending {
		return dErrors.New(dErrors.CodeInvalidTransition, "a pending request only advances by reaching quorum")
	}
	next, ok := r.Status.Successor()
	if !ok || next != target {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"cannot move from "+r.Status.String()+" to "+target.String())
	}
	return nil
}

// ApplyAdvance moves the request to target and returns the previous status.
// Call CanAdvance first.
func (r *RedemptionRequest) ApplyAdvance(target Status, now time.Time) Status {
	previous := r.Status
	r.Status = target
	r.UpdatedAt = now
	return previous
}

// NextSequence reserves the next per-request event sequence number.
func (r *RedemptionRequest) NextSequence() int64 {
	r.Sequence++
	return r.Sequence
}

// CheckInvariants verifies the aggregate invariants. Stores call it before
// committing so a faulty mutator can never persist an illegal state.
func (r *RedemptionRequest) CheckInvariants() error {
	if (r.Status == StatusRejected) != (r.Rejection != nil) {
		return dErrors.New(dErrors.CodeInternal, "rejection metadata does not match status")
	}
	if r.ApprovedCount() >= r.RequiredApprovals && r.Status == StatusPending {
		return dErrors.New(dErrors.CodeInternal, "quorum met while still pending")
	}
	return nil
}
