package errors

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	// Given: a breaker that opens after 3 failures
	cb := NewCircuitBreaker("lms", WithMaxFailures(3))
	require.Equal(t, StateClosed, cb.State())

	// When: recording failures up to the threshold
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	cb.RecordFailure()

	// Then: the circuit opens and blocks requests
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := NewCircuitBreaker("lms", WithMaxFailures(2))
	cb.RecordFailure()
	cb.RecordSuccess()

	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("lms",
		WithMaxFailures(1),
		WithResetTimeout(10*time.Millisecond))

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)

	// Then: the breaker lets a probe request through
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb := NewCircuitBreaker("index", WithMaxFailures(1))

	// Transient failures trip the breaker.
	err := cb.Execute(func() error {
		return New(ErrCodeRemoteUnavailable, "503", nil)
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())

	// Open circuit fails fast without invoking fn.
	called := false
	err = cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	// A permission denial says nothing about service health.
	cb := NewCircuitBreaker("lms", WithMaxFailures(1))

	err := cb.Execute(func() error {
		return PermissionDenied("403", nil)
	})
	require.Error(t, err)
	assert.Equal(t, StateClosed, cb.State())

	err = cb.Execute(func() error {
		return stderrors.New("plain")
	})
	require.Error(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Name(t *testing.T) {
	assert.Equal(t, "canvas", NewCircuitBreaker("canvas").Name())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
