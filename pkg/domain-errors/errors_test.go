package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodes(t *testing.T) {
	t.Run("CodeOf returns outermost code", func(t *testing.T) {
		inner := New(CodeConflict, "version moved")
		outer := Wrap(inner, CodeExhausted, "retries exhausted")

		assert.Equal(t, CodeExhausted, CodeOf(outer))
		assert.True(t, HasCode(outer, CodeConflict))
		assert.True(t, HasCode(outer, CodeExhausted))
		assert.False(t, HasCode(outer, CodeNotFound))
	})

	t.Run("uncoded errors are internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
		assert.Equal(t, Code(""), CodeOf(nil))
	})

	t.Run("survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("approve: %w", New(CodeAlreadyApproved, "approver already signed"))
		assert.True(t, Is(err, CodeAlreadyApproved))
		assert.True(t, IsInformational(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("retryable kinds", func(t *testing.T) {
		assert.True(t, IsRetryable(New(CodeExhausted, "x")))
		assert.False(t, IsRetryable(New(CodeInvalidTransition, "x")))
	})

	t.Run("error message includes cause", func(t *testing.T) {
		err := Wrap(errors.New("db down"), CodeInternal, "failed to load request")
		assert.Equal(t, "internal_error: failed to load request: db down", err.Error())
	})
}
