package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "redeem/pkg/domain-errors"
)

// maxIDLength bounds identifiers accepted at trust boundaries.
const maxIDLength = 128

// RequestID identifies a redemption request.
type RequestID string

// ApproverID identifies an approver (a sign-off party) on a request.
type ApproverID string

// InvestorID identifies the investor that owns a request.
type InvestorID string

// SubscriptionID identifies one event bus registration.
type SubscriptionID string

// NewRequestID returns a fresh random request identifier.
func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}

// NewSubscriptionID returns a fresh random subscription identifier.
func NewSubscriptionID() SubscriptionID {
	return SubscriptionID(uuid.NewString())
}

// ParseRequestID validates a request id from external input.
func ParseRequestID(s string) (RequestID, error) {
	v, err := parseIdentifier("request_id", s)
	return RequestID(v), err
}

// ParseApproverID validates an approver id from external input.
func ParseApproverID(s string) (ApproverID, error) {
	v, err := parseIdentifier("approver_id", s)
	return ApproverID(v), err
}

// ParseInvestorID validates an investor id from external input.
func ParseInvestorID(s string) (InvestorID, error) {
	v, err := parseIdentifier("investor_id", s)
	return InvestorID(v), err
}

// parseIdentifier accepts ASCII letters, digits and "-_.@". The colon is
// reserved as the topic separator.
func parseIdentifier(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidArgument, field+" cannot be empty")
	}
	if len(s) > maxIDLength {
		return "", dErrors.New(dErrors.CodeInvalidArgument, field+" is too long")
	}
	for i := 0; i < len(s); i++ {
		if !isIDByte(s[i]) {
			return "", dErrors.New(dErrors.CodeInvalidArgument, field+" contains invalid characters")
		}
	}
	return s, nil
}

func isIDByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '@':
		return true
	}
	return false
}

func (id RequestID) String() string  { return string(id) }
func (id ApproverID) String() string { return string(id) }
func (id InvestorID) String() string { return string(id) }

func (id SubscriptionID) String() string { return string(id) }

// IsZero reports whether the investor id is unset.
func (id InvestorID) IsZero() bool { return id == "" }
