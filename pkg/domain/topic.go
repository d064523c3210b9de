package domain

import (
	"strings"

	dErrors "redeem/pkg/domain-errors"
)

// TopicKind names the dimension an observer subscribes on.
type TopicKind string

const (
	TopicKindRequest  TopicKind = "request"
	TopicKindApprover TopicKind = "approver"
	TopicKindInvestor TopicKind = "investor"
)

// Topic is a named channel of interest. The zero value is not a valid topic.
type Topic struct {
	Kind TopicKind
	ID   string
}

// RequestTopic is the topic for every event about one request.
func RequestTopic(id RequestID) Topic {
	return Topic{Kind: TopicKindRequest, ID: string(id)}
}

// ApproverTopic is the topic for events on requests an approver sits on.
func ApproverTopic(id ApproverID) Topic {
	return Topic{Kind: TopicKindApprover, ID: string(id)}
}

// InvestorTopic is the topic for events on requests an investor owns.
func InvestorTopic(id InvestorID) Topic {
	return Topic{Kind: TopicKindInvestor, ID: string(id)}
}

// NewTopic validates a kind and id pair from external input.
func NewTopic(kind, id string) (Topic, error) {
	k := TopicKind(strings.ToLower(strings.TrimSpace(kind)))
	switch k {
	case TopicKindRequest, TopicKindApprover, TopicKindInvestor:
	default:
		return Topic{}, dErrors.New(dErrors.CodeInvalidArgument, "unknown topic kind")
	}
	v, err := parseIdentifier("topic id", id)
	if err != nil {
		return Topic{}, err
	}
	return Topic{Kind: k, ID: v}, nil
}

// ParseTopic parses the "<kind>:<id>" string form.
func ParseTopic(s string) (Topic, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Topic{}, dErrors.New(dErrors.CodeInvalidArgument, "topic must have the form kind:id")
	}
	return NewTopic(kind, id)
}

// Validate reports whether t was built through one of the constructors.
func (t Topic) Validate() error {
	_, err := NewTopic(string(t.Kind), t.ID)
	return err
}

func (t Topic) String() string {
	return string(t.Kind) + ":" + t.ID
}
