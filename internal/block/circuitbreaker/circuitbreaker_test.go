package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-flow/internal/block"
	"github.com/yourorg/payment-flow/internal/payment"
)

const (
	testBlock    = "test-block"
	anotherBlock = "another-block"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clock.Now
	return cb, clock
}

func TestNewCircuitBreaker(t *testing.T) {
	t.Run("Default config", func(t *testing.T) {
		cb := NewCircuitBreaker(Config{})
		require.NotNil(t, cb)
		assert.True(t, cb.AllowRequest(testBlock))
		cb.RecordFailure(testBlock)
		cb.RecordFailure(testBlock)
		assert.True(t, cb.AllowRequest(testBlock), "Should still be closed after 2 failures")
		cb.RecordFailure(testBlock)
		assert.False(t, cb.AllowRequest(testBlock), "Should be open after 3 failures with default config")
	})

	t.Run("Custom config", func(t *testing.T) {
		cb := NewCircuitBreaker(Config{FailureThreshold: 2, ResetTimeout: time.Minute})
		cb.RecordFailure(testBlock)
		assert.True(t, cb.AllowRequest(testBlock))
		cb.RecordFailure(testBlock)
		assert.False(t, cb.AllowRequest(testBlock))
	})
}

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	cfg := Config{FailureThreshold: 2, ResetTimeout: 50 * time.Millisecond}

	t.Run("Closed_To_Open", func(t *testing.T) {
		cb, _ := newTestBreaker(cfg)
		state, failures := cb.GetBlockStatus(testBlock)
		assert.Equal(t, StateClosed, state)
		assert.Equal(t, 0, failures)

		cb.RecordFailure(testBlock)
		state, failures = cb.GetBlockStatus(testBlock)
		assert.Equal(t, StateClosed, state)
		assert.Equal(t, 1, failures)

		cb.RecordFailure(testBlock)
		state, _ = cb.GetBlockStatus(testBlock)
		assert.Equal(t, StateOpen, state)
		assert.False(t, cb.AllowRequest(testBlock))
	})

	t.Run("Open_To_HalfOpen_To_Closed", func(t *testing.T) {
		cb, clock := newTestBreaker(cfg)
		cb.RecordFailure(testBlock)
		cb.RecordFailure(testBlock)
		require.False(t, cb.AllowRequest(testBlock))

		clock.Advance(50 * time.Millisecond)
		assert.True(t, cb.AllowRequest(testBlock))
		state, _ := cb.GetBlockStatus(testBlock)
		assert.Equal(t, StateHalfOpen, state)

		cb.RecordSuccess(testBlock)
		state, _ = cb.GetBlockStatus(testBlock)
		assert.Equal(t, StateClosed, state)
	})

	t.Run("HalfOpen_Failure_Reopens", func(t *testing.T) {
		cb, clock := newTestBreaker(cfg)
		cb.RecordFailure(testBlock)
		cb.RecordFailure(testBlock)
		clock.Advance(time.Second)
		require.True(t, cb.AllowRequest(testBlock))

		cb.RecordFailure(testBlock)
		state, _ := cb.GetBlockStatus(testBlock)
		assert.Equal(t, StateOpen, state)
		assert.False(t, cb.AllowRequest(testBlock))
	})

	t.Run("Success_Resets_Failures", func(t *testing.T) {
		cb, _ := newTestBreaker(cfg)
		cb.RecordFailure(testBlock)
		cb.RecordSuccess(testBlock)
		cb.RecordFailure(testBlock)
		state, failures := cb.GetBlockStatus(testBlock)
		assert.Equal(t, StateClosed, state)
		assert.Equal(t, 1, failures)
	})

	t.Run("Blocks_Are_Independent", func(t *testing.T) {
		cb, _ := newTestBreaker(cfg)
		cb.RecordFailure(testBlock)
		cb.RecordFailure(testBlock)
		assert.False(t, cb.AllowRequest(testBlock))
		assert.True(t, cb.AllowRequest(anotherBlock))
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestGuard(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 2, ResetTimeout: time.Second})
	calls := 0
	var next payment.BlockResponse
	var nextErr error
	inner := block.NewFunc("guarded-provider", func(context.Context, *payment.PaymentMethod, block.Args) (payment.BlockResponse, error) {
		calls++
		return next, nextErr
	})
	g := Guard(inner, cb)
	pm := &payment.PaymentMethod{ID: "pm"}
	assert.Equal(t, "guarded-provider", g.Name())

	next = payment.BlockResponse{Status: payment.StatusFailed, ErrorMessage: "declined"}
	_, _ = g.Run(context.Background(), pm, nil)
	next, nextErr = payment.BlockResponse{}, errors.New("timeout")
	_, err := g.Run(context.Background(), pm, nil)
	assert.Error(t, err)
	require.Equal(t, 2, calls)

	resp, err := g.Run(context.Background(), pm, nil)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, resp.Status)
	assert.Equal(t, "circuit open for block guarded-provider", resp.ErrorMessage)
	assert.Equal(t, 2, calls, "open circuit must not reach the inner block")

	clock.Advance(time.Second)
	next, nextErr = payment.BlockResponse{Status: payment.StatusPending}, nil
	resp, err = g.Run(context.Background(), pm, nil)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, resp.Status)
	state, _ := cb.GetBlockStatus("guarded-provider")
	assert.Equal(t, StateClosed, state)
}
