package dErrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	err := New(CodeConflict, "pending edit request already exists")
	assert.True(t, HasCode(err, CodeConflict))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(nil, CodeConflict))
	assert.False(t, HasCode(errors.New("plain"), CodeConflict))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUnavailable, "scorer unreachable")

	assert.True(t, HasCode(err, CodeUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "scorer unreachable", err.Error())
	assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestCodeOfWrappedChain(t *testing.T) {
	inner := New(CodeInvalidTransition, "approved cannot move to denied")
	outer := fmt.Errorf("resolve edit: %w", inner)

	assert.Equal(t, CodeInvalidTransition, CodeOf(outer))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CodeUnavailable, "scorer down")))
	assert.True(t, Retryable(New(CodeTimeout, "scorer timed out")))
	assert.False(t, Retryable(New(CodeConflict, "lost the race")))
	assert.False(t, Retryable(New(CodeValidation, "bad input")))
}
