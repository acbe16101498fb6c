// Package mock provides a scriptable block for tests and the demo server.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/yourorg/payment-flow/internal/block"
	"github.com/yourorg/payment-flow/internal/payment"
)

// Call is one recorded invocation.
type Call struct {
	PaymentMethodID string
	Operations      int
	Args            block.Args
}

// MockBlock returns Response (COMPLETED by default) unless RunFunc is set.
type MockBlock struct {
	BlockName string
	Response  payment.BlockResponse
	// Latency simulates provider work. The wait is abandoned if ctx ends.
	Latency time.Duration
	RunFunc block.RunFunc

	mu    sync.Mutex
	calls []Call
}

// NewMockBlock creates a block that always completes.
func NewMockBlock(name string) *MockBlock {
	return &MockBlock{
		BlockName: name,
		Response:  payment.BlockResponse{Status: payment.StatusCompleted},
	}
}

// NewMockBlockWithResponse creates a block that always returns resp.
func NewMockBlockWithResponse(name string, resp payment.BlockResponse) *MockBlock {
	return &MockBlock{BlockName: name, Response: resp}
}

func (m *MockBlock) Name() string { return m.BlockName }

// Run implements block.Block.
func (m *MockBlock) Run(ctx context.Context, pm *payment.PaymentMethod, args block.Args) (payment.BlockResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{PaymentMethodID: pm.ID, Operations: len(pm.Operations), Args: args.Clone()})
	m.mu.Unlock()

	if m.Latency > 0 {
		timer := time.NewTimer(m.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return payment.BlockResponse{}, ctx.Err()
		case <-timer.C:
		}
	}

	if m.RunFunc != nil {
		return m.RunFunc(ctx, pm, args)
	}
	return m.Response, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockBlock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Run was invoked.
func (m *MockBlock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
