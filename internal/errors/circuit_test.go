package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker that trips after two failures
	cb := NewCircuitBreaker("search-restart", WithMaxFailures(2), WithResetTimeout(time.Hour))
	boom := errors.New("crashed")

	// When: two calls fail
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, BreakerClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)

	// Then: the next call is rejected without running
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, BreakerOpen, cb.State())
	assert.Equal(t, "open", cb.State().String())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	// Given: an open breaker whose reset timeout has elapsed
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("probe", WithMaxFailures(1), WithResetTimeout(time.Second))
	cb.now = func() time.Time { return now }
	_ = cb.Execute(func() error { return errors.New("fail") })
	assert.Equal(t, BreakerOpen, cb.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, BreakerHalfOpen, cb.State())

	// When: the probe succeeds
	err := cb.Execute(func() error { return nil })

	// Then: the circuit closes
	assert.NoError(t, err)
	assert.Equal(t, BreakerClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("reset", WithMaxFailures(1))
	_ = cb.Execute(func() error { return errors.New("fail") })
	assert.Equal(t, BreakerOpen, cb.State())

	cb.Reset()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.Equal(t, "reset", cb.Name())
}
