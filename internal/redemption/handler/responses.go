package handler

import (
	"time"

	"redeem/internal/redemption/models"
	"redeem/pkg/platform/audit"
)

// RedemptionResponse is the HTTP shape of a redemption request.
type RedemptionResponse struct {
	ID                string             `json:"id"`
	InvestorID        string             `json:"investor_id,omitempty"`
	Status            string             `json:"status"`
	RequiredApprovals int                `json:"required_approvals"`
	ApprovedCount     int                `json:"approved_count"`
	Approvers         []ApproverResponse `json:"approvers"`
	Rejection         *RejectionResponse `json:"rejection,omitempty"`
	Metadata          map[string]string  `json:"metadata,omitempty"`
	RequestedAt       time.Time          `json:"requested_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	Version           int64              `json:"version"`
}

type ApproverResponse struct {
	ID         string     `json:"id"`
	Approved   bool       `json:"approved"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

type RejectionResponse struct {
	Reason     string    `json:"reason"`
	RejectedBy string    `json:"rejected_by"`
	RejectedAt time.Time `json:"rejected_at"`
}

// TransitionResponse is returned by approve and reject: the updated request
// and the events the call produced, in order.
type TransitionResponse struct {
	Redemption *RedemptionResponse   `json:"redemption"`
	Events     []models.Notification `json:"events"`
}

type ListResponse struct {
	Redemptions []*RedemptionResponse `json:"redemptions"`
	Count       int                   `json:"count"`
}

// FromRequest converts a domain request to its HTTP response.
func FromRequest(req *models.RedemptionRequest) *RedemptionResponse {
	resp := &RedemptionResponse{
		ID:                string(req.ID),
		InvestorID:        string(req.InvestorID),
		Status:            string(req.Status),
		RequiredApprovals: req.RequiredApprovals,
		ApprovedCount:     req.ApprovedCount(),
		Approvers:         make([]ApproverResponse, len(req.Approvers)),
		Metadata:          req.Metadata,
		RequestedAt:       req.RequestedAt,
		UpdatedAt:         req.UpdatedAt,
		Version:           req.Version,
	}
	for i, a := range req.Approvers {
		resp.Approvers[i] = ApproverResponse{ID: string(a.ID), Approved: a.Approved, ApprovedAt: a.ApprovedAt}
	}
	if req.Rejection != nil {
		resp.Rejection = &RejectionResponse{
			Reason:     req.Rejection.Reason,
			RejectedBy: string(req.Rejection.RejectedBy),
			RejectedAt: req.Rejection.RejectedAt,
		}
	}
	return resp
}

func FromRequests(reqs []*models.RedemptionRequest) *ListResponse {
	out := &ListResponse{Redemptions: make([]*RedemptionResponse, len(reqs)), Count: len(reqs)}
	for i, req := range reqs {
		out.Redemptions[i] = FromRequest(req)
	}
	return out
}

func FromTransition(req *models.RedemptionRequest, events []models.Event) *TransitionResponse {
	resp := &TransitionResponse{Redemption: FromRequest(req), Events: make([]models.Notification, len(events))}
	for i, ev := range events {
		resp.Events[i] = ev.Payload
	}
	return resp
}

// AuditEventResponse is one entry of a redemption's audit trail.
type AuditEventResponse struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device,omitempty"`
}

type AuditResponse struct {
	Events []AuditEventResponse `json:"events"`
}

func FromAuditEvents(events []audit.Event) *AuditResponse {
	out := &AuditResponse{Events: make([]AuditEventResponse, len(events))}
	for i, ev := range events {
		out.Events[i] = AuditEventResponse{
			ID:        ev.ID,
			Action:    ev.Action,
			ActorID:   string(ev.ActorID),
			Decision:  ev.Decision,
			Reason:    ev.Reason,
			Sequence:  ev.Sequence,
			Timestamp: ev.Timestamp,
			Device:    ev.Device,
		}
	}
	return out
}
