package handler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
)

func TestCreateRedemptionRequest_Validate(t *testing.T) {
	t.Run("trims and parses ids", func(t *testing.T) {
		req := &CreateRedemptionRequest{
			RequestID:         " R1 ",
			InvestorID:        "inv-1",
			Approvers:         []string{"A", "B"},
			RequiredApprovals: 2,
		}
		require.NoError(t, req.Validate())
		in := req.Input()
		assert.Equal(t, id.RequestID("R1"), in.RequestID)
		assert.Equal(t, []id.ApproverID{"A", "B"}, in.Approvers)
	})

	t.Run("request id is optional", func(t *testing.T) {
		req := &CreateRedemptionRequest{Approvers: []string{"A"}, RequiredApprovals: 1}
		require.NoError(t, req.Validate())
		assert.Empty(t, req.Input().RequestID)
	})

	tests := []struct {
		name string
		req  CreateRedemptionRequest
	}{
		{"no approvers", CreateRedemptionRequest{RequiredApprovals: 1}},
		{"zero threshold", CreateRedemptionRequest{Approvers: []string{"A"}}},
		{"blank approver", CreateRedemptionRequest{Approvers: []string{" "}, RequiredApprovals: 1}},
		{"too many approvers", CreateRedemptionRequest{Approvers: make([]string, maxApprovers+1), RequiredApprovals: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.Is(err, dErrors.CodeInvalidArgument))
		})
	}
}

func TestRejectRequest_Validate(t *testing.T) {
	req := &RejectRequest{Reason: strings.Repeat("x", maxReasonLength+1)}
	assert.True(t, dErrors.Is(req.Validate(), dErrors.CodeInvalidArgument))

	req = &RejectRequest{Reason: " KYC expired ", ApproverID: "A"}
	require.NoError(t, req.Validate())
	assert.Equal(t, "KYC expired", req.Reason)
	assert.Equal(t, id.ApproverID("A"), req.ParsedApproverID())
}

func TestAdvanceRequest_Validate(t *testing.T) {
	req := &AdvanceRequest{}
	assert.True(t, dErrors.Is(req.Validate(), dErrors.CodeInvalidArgument))

	req = &AdvanceRequest{Status: "Processing"}
	require.NoError(t, req.Validate())
	assert.Equal(t, "Processing", string(req.ParsedStatus()))
}
