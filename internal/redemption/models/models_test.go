package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
)

var testNow = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

func newTestRequest(t *testing.T, required int, approvers ...id.ApproverID) *RedemptionRequest {
	t.Helper()
	req, err := NewRedemptionRequest("req-1", "inv-1", approvers, required, nil, testNow)
	require.NoError(t, err)
	return req
}

func TestStatus(t *testing.T) {
	t.Run("successor follows the forward lifecycle", func(t *testing.T) {
		cases := map[Status]Status{
			StatusPending:    StatusApproved,
			StatusApproved:   StatusProcessing,
			StatusProcessing: StatusCompleted,
		}
		for from, want := range cases {
			got, ok := from.Successor()
			assert.True(t, ok, from)
			assert.Equal(t, want, got)
		}
		_, ok := StatusCompleted.Successor()
		assert.False(t, ok)
		_, ok = StatusRejected.Successor()
		assert.False(t, ok)
	})

	t.Run("terminal states", func(t *testing.T) {
		assert.True(t, StatusRejected.IsTerminal())
		assert.True(t, StatusCompleted.IsTerminal())
		assert.False(t, StatusApproved.IsTerminal())
		assert.False(t, StatusPending.IsTerminal())
	})

	t.Run("parse rejects unknown values", func(t *testing.T) {
		st, err := ParseStatus("Processing")
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, st)

		_, err = ParseStatus("processing")
		assert.True(t, dErrors.Is(err, dErrors.CodeInvalidArgument))
	})
}

func TestEvaluateQuorum(t *testing.T) {
	tests := []struct {
		name    string
		before  int
		after   int
		status  Status
		reached bool
	}{
		{"below threshold", 0, 1, StatusPending, false},
		{"crossing while pending", 1, 2, StatusPending, true},
		{"already past threshold", 2, 3, StatusPending, false},
		{"crossing after approval", 1, 2, StatusApproved, false},
		{"crossing after rejection", 1, 2, StatusRejected, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := EvaluateQuorum(tt.before, tt.after, 2, tt.status)
			assert.Equal(t, tt.reached, out.Reached)
			assert.Equal(t, tt.after, out.ApprovedCount)
			assert.Equal(t, 2, out.Required)
		})
	}
}

func TestNewRedemptionRequest(t *testing.T) {
	tests := []struct {
		name      string
		requestID id.RequestID
		approvers []id.ApproverID
		required  int
		message   string
	}{
		{"empty id", "", []id.ApproverID{"a"}, 1, "request id"},
		{"no approvers", "r", nil, 1, "approvers cannot be empty"},
		{"zero threshold", "r", []id.ApproverID{"a"}, 0, "must be positive"},
		{"threshold above approvers", "r", []id.ApproverID{"a", "b"}, 3, "cannot exceed"},
		{"duplicate approver", "r", []id.ApproverID{"a", "a"}, 1, "duplicate approver"},
		{"blank approver", "r", []id.ApproverID{"a", ""}, 1, "approver id cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedemptionRequest(tt.requestID, "inv", tt.approvers, tt.required, nil, testNow)
			require.Error(t, err)
			assert.True(t, dErrors.Is(err, dErrors.CodeInvalidArgument))
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	t.Run("valid request starts pending with nobody approved", func(t *testing.T) {
		meta := map[string]string{"fund": "alpha"}
		req, err := NewRedemptionRequest("r", "inv", []id.ApproverID{"a", "b"}, 2, meta, testNow)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, req.Status)
		assert.Zero(t, req.ApprovedCount())
		assert.Equal(t, testNow, req.RequestedAt)

		meta["fund"] = "beta"
		assert.Equal(t, "alpha", req.Metadata["fund"])
	})
}

func TestCanApprove_Order(t *testing.T) {
	req := newTestRequest(t, 2, "a", "b")

	assert.True(t, dErrors.Is(req.CanApprove("x"), dErrors.CodeNotAnApprover))
	require.NoError(t, req.CanApprove("a"))
	req.ApplyApproval("a", testNow)
	assert.True(t, dErrors.Is(req.CanApprove("a"), dErrors.CodeAlreadyApproved))

	req.ApplyRejection("b", "stale wire", testNow)
	// Finalized wins over every other precondition.
	assert.True(t, dErrors.Is(req.CanApprove("x"), dErrors.CodeAlreadyFinalized))
	assert.True(t, dErrors.Is(req.CanApprove("a"), dErrors.CodeAlreadyFinalized))
}

func TestApplyApproval(t *testing.T) {
	req := newTestRequest(t, 2, "a", "b", "c")

	out := req.ApplyApproval("a", testNow)
	assert.False(t, out.Reached)
	assert.Equal(t, StatusPending, req.Status)
	require.NotNil(t, req.Approvers[0].ApprovedAt)

	out = req.ApplyApproval("b", testNow)
	assert.True(t, out.Reached)
	assert.Equal(t, StatusApproved, req.Status)

	out = req.ApplyApproval("c", testNow)
	assert.False(t, out.Reached)
	assert.Equal(t, 3, out.ApprovedCount)
	assert.Equal(t, StatusApproved, req.Status)
	assert.NoError(t, req.CheckInvariants())
}

func TestCanReject(t *testing.T) {
	req := newTestRequest(t, 1, "a")
	assert.True(t, dErrors.Is(req.CanReject("a", ""), dErrors.CodeInvalidArgument))
	assert.True(t, dErrors.Is(req.CanReject("x", "r"), dErrors.CodeNotAnApprover))
	require.NoError(t, req.CanReject("a", "r"))

	prev := req.ApplyRejection("a", "r", testNow)
	assert.Equal(t, StatusPending, prev)
	require.NotNil(t, req.Rejection)
	assert.Equal(t, id.ApproverID("a"), req.Rejection.RejectedBy)
	assert.True(t, dErrors.Is(req.CanReject("a", "r"), dErrors.CodeAlreadyFinalized))
}

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from   Status
		target Status
		code   dErrors.Code
	}{
		{StatusPending, StatusApproved, dErrors.CodeInvalidTransition},
		{StatusApproved, StatusProcessing, ""},
		{StatusApproved, StatusCompleted, dErrors.CodeInvalidTransition},
		{StatusApproved, StatusPending, dErrors.CodeInvalidTransition},
		{StatusProcessing, StatusCompleted, ""},
		{StatusCompleted, StatusProcessing, dErrors.CodeInvalidTransition},
		{StatusRejected, StatusProcessing, dErrors.CodeInvalidTransition},
		{StatusApproved, Status("Archived"), dErrors.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.target), func(t *testing.T) {
			req := &RedemptionRequest{Status: tt.from}
			err := req.CanAdvance(tt.target)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, dErrors.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	req := newTestRequest(t, 1, "a", "b")
	req.Metadata = map[string]string{"k": "v"}
	req.ApplyApproval("a", testNow)

	c := req.Clone()
	c.Approvers[1].Approved = true
	*c.Approvers[0].ApprovedAt = testNow.Add(time.Hour)
	c.Metadata["k"] = "changed"

	assert.False(t, req.Approvers[1].Approved)
	assert.Equal(t, testNow, *req.Approvers[0].ApprovedAt)
	assert.Equal(t, "v", req.Metadata["k"])
}

func TestCheckInvariants(t *testing.T) {
	req := newTestRequest(t, 1, "a")
	req.Approvers[0].Approved = true
	assert.True(t, dErrors.Is(req.CheckInvariants(), dErrors.CodeInternal))

	req = newTestRequest(t, 1, "a")
	req.Status = StatusRejected
	assert.True(t, dErrors.Is(req.CheckInvariants(), dErrors.CodeInternal))
}

func TestEventBuilder(t *testing.T) {
	req := newTestRequest(t, 1, "a")
	b := NewEventBuilder(req, testNow)
	b.Add(EventCreated, "", "", "")
	req.ApplyApproval("a", b.Now())
	b.Add(EventApproved, "a", "", "")
	b.Add(EventStatusChanged, "a", StatusPending, "")

	events := b.Events()
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Sequence)
		assert.Equal(t, ev.Sequence, ev.Payload.Sequence)
		assert.Equal(t, id.RequestID("req-1"), ev.Payload.RequestID)
		assert.Equal(t, testNow, ev.OccurredAt)
	}
	assert.Equal(t, StatusPending, events[0].Payload.Status)
	assert.Equal(t, StatusApproved, events[2].Payload.Status)
	assert.Equal(t, StatusPending, events[2].Payload.PreviousStatus)
	assert.Equal(t, 1, events[1].Payload.ApprovedCount)
	assert.Equal(t, int64(3), req.Sequence)
}
