package handler

import (
	"strings"

	"redeem/internal/redemption/models"
	"redeem/internal/redemption/service"
	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
)

const (
	maxApprovers     = 64
	maxMetadataKeys  = 32
	maxReasonLength  = 1024
	maxMetadataValue = 512
)

// CreateRedemptionRequest is the HTTP request body for POST /redemptions.
type CreateRedemptionRequest struct {
	RequestID         string            `json:"request_id,omitempty"`
	InvestorID        string            `json:"investor_id,omitempty"`
	Approvers         []string          `json:"approvers"`
	RequiredApprovals int               `json:"required_approvals"`
	Metadata          map[string]string `json:"metadata,omitempty"`

	parsedRequestID  id.RequestID
	parsedInvestorID id.InvestorID
	parsedApprovers  []id.ApproverID
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *CreateRedemptionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeInvalidArgument, "request body is required")
	}

	// Size validation (fail fast)
	if len(r.Approvers) > maxApprovers {
		return dErrors.New(dErrors.CodeInvalidArgument, "too many approvers")
	}
	if len(r.Metadata) > maxMetadataKeys {
		return dErrors.New(dErrors.CodeInvalidArgument, "too many metadata entries")
	}
	for _, v := range r.Metadata {
		if len(v) > maxMetadataValue {
			return dErrors.New(dErrors.CodeInvalidArgument, "metadata value too long")
		}
	}

	if r.RequestID = strings.TrimSpace(r.RequestID); r.RequestID != "" {
		requestID, err := id.ParseRequestID(r.RequestID)
		if err != nil {
			return err
		}
		r.parsedRequestID = requestID
	}
	if r.InvestorID = strings.TrimSpace(r.InvestorID); r.InvestorID != "" {
		investorID, err := id.ParseInvestorID(r.InvestorID)
		if err != nil {
			return err
		}
		r.parsedInvestorID = investorID
	}

	if len(r.Approvers) == 0 {
		return dErrors.New(dErrors.CodeInvalidArgument, "approvers is required")
	}
	r.parsedApprovers = make([]id.ApproverID, 0, len(r.Approvers))
	for _, raw := range r.Approvers {
		approverID, err := id.ParseApproverID(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		r.parsedApprovers = append(r.parsedApprovers, approverID)
	}
	if r.RequiredApprovals <= 0 {
		return dErrors.New(dErrors.CodeInvalidArgument, "required_approvals must be positive")
	}
	return nil
}

// Input converts the validated body to a service input.
func (r *CreateRedemptionRequest) Input() service.CreateRequestInput {
	return service.CreateRequestInput{
		RequestID:         r.parsedRequestID,
		InvestorID:        r.parsedInvestorID,
		Approvers:         r.parsedApprovers,
		RequiredApprovals: r.RequiredApprovals,
		Metadata:          r.Metadata,
	}
}

// ApproveRequest is the body for POST /redemptions/{id}/approve. ApproverID
// may be omitted when the caller is authenticated.
type ApproveRequest struct {
	ApproverID string `json:"approver_id,omitempty"`

	parsedApproverID id.ApproverID
}

func (r *ApproveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeInvalidArgument, "request body is required")
	}
	approverID, err := parseOptionalApprover(r.ApproverID)
	if err != nil {
		return err
	}
	r.parsedApproverID = approverID
	return nil
}

func (r *ApproveRequest) ParsedApproverID() id.ApproverID {
	return r.parsedApproverID
}

// RejectRequest is the body for POST /redemptions/{id}/reject.
type RejectRequest struct {
	ApproverID string `json:"approver_id,omitempty"`
	Reason     string `json:"reason"`

	parsedApproverID id.ApproverID
}

func (r *RejectRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeInvalidArgument, "request body is required")
	}
	if len(r.Reason) > maxReasonLength {
		return dErrors.New(dErrors.CodeInvalidArgument, "reason too long")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeInvalidArgument, "reason is required")
	}
	approverID, err := parseOptionalApprover(r.ApproverID)
	if err != nil {
		return err
	}
	r.parsedApproverID = approverID
	return nil
}

func (r *RejectRequest) ParsedApproverID() id.ApproverID {
	return r.parsedApproverID
}

// AdvanceRequest is the body for POST /redemptions/{id}/advance.
type AdvanceRequest struct {
	Status string `json:"status"`

	parsedStatus models.Status
}

func (r *AdvanceRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeInvalidArgument, "request body is required")
	}
	r.Status = strings.TrimSpace(r.Status)
	if r.Status == "" {
		return dErrors.New(dErrors.CodeInvalidArgument, "status is required")
	}
	st, err := models.ParseStatus(r.Status)
	if err != nil {
		return err
	}
	r.parsedStatus = st
	return nil
}

func (r *AdvanceRequest) ParsedStatus() models.Status {
	return r.parsedStatus
}

func parseOptionalApprover(raw string) (id.ApproverID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	return id.ParseApproverID(raw)
}
