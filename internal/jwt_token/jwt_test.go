package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret-key", "redeem", "approvers")

	token, err := svc.GenerateApproverToken("alice", time.Minute)
	require.NoError(t, err)

	claims, err := NewJWTServiceAdapter(svc).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, id.ApproverID("alice"), claims.ApproverID)
	assert.NotEmpty(t, claims.JTI)
}

func TestJWTServiceAdapter_RejectsMalformedSubject(t *testing.T) {
	svc := NewJWTService("secret-key", "redeem", "approvers")
	token, err := svc.GenerateApproverToken("bad subject!", time.Minute)
	require.NoError(t, err)

	_, err = NewJWTServiceAdapter(svc).ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("secret-key", "redeem", "approvers")

	t.Run("expired", func(t *testing.T) {
		issued := time.Now().Add(-2 * time.Hour)
		svc.now = func() time.Time { return issued }
		token, err := svc.GenerateApproverToken("alice", time.Minute)
		require.NoError(t, err)
		svc.now = time.Now

		_, err = svc.ValidateToken(token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong key", func(t *testing.T) {
		other := NewJWTService("other-key", "redeem", "approvers")
		token, err := other.GenerateApproverToken("alice", time.Minute)
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("wrong audience", func(t *testing.T) {
		other := NewJWTService("secret-key", "redeem", "investors")
		token, err := other.GenerateApproverToken("alice", time.Minute)
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
