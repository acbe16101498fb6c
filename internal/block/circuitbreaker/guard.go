package circuitbreaker

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yourorg/payment-flow/internal/block"
	"github.com/yourorg/payment-flow/internal/payment"
)

var circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "payflow",
	Subsystem: "block",
	Name:      "circuit_state",
	Help:      "Circuit state per block: 0 closed, 1 open, 2 half-open.",
}, []string{"block"})

// Guarded wraps a block with a circuit breaker.
type Guarded struct {
	inner block.Block
	cb    *CircuitBreaker
}

// Guard returns b protected by cb. While the circuit is open the inner block
// is not called and the guard answers FAILED.
func Guard(b block.Block, cb *CircuitBreaker) *Guarded {
	return &Guarded{inner: b, cb: cb}
}

func (g *Guarded) Name() string { return g.inner.Name() }

// Run implements block.Block. Errors and FAILED responses count as failures;
// PENDING and REQUIRES_ACTION are healthy answers.
func (g *Guarded) Run(ctx context.Context, pm *payment.PaymentMethod, args block.Args) (payment.BlockResponse, error) {
	name := g.inner.Name()
	if !g.cb.AllowRequest(name) {
		return payment.BlockResponse{
			Status:       payment.StatusFailed,
			ErrorMessage: fmt.Sprintf("circuit open for block %s", name),
		}, nil
	}
	resp, err := g.inner.Run(ctx, pm, args)
	if err != nil || resp.Status == payment.StatusFailed {
		g.cb.RecordFailure(name)
	} else {
		g.cb.RecordSuccess(name)
	}
	return resp, err
}
