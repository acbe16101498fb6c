// Package circuitbreaker tracks block health and fails fast while a block is
// considered unhealthy.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of one block's circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold         = 3
	defaultResetTimeout             = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 1
)

// Config tunes a CircuitBreaker. Zero values fall back to defaults.
type Config struct {
	FailureThreshold         int           `mapstructure:"failure_threshold"`
	ResetTimeout             time.Duration `mapstructure:"reset_timeout"`
	HalfOpenSuccessThreshold int           `mapstructure:"half_open_success_threshold"`
}

type blockState struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openUntil            time.Time
}

// CircuitBreaker keeps one circuit per block name.
type CircuitBreaker struct {
	mu     sync.Mutex
	blocks map[string]*blockState
	cfg    Config
	now    func() time.Time
}

// NewCircuitBreaker creates a breaker with cfg, filling in defaults.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenSuccessThreshold <= 0 {
		cfg.HalfOpenSuccessThreshold = defaultHalfOpenSuccessThreshold
	}
	return &CircuitBreaker{
		blocks: make(map[string]*blockState),
		cfg:    cfg,
		now:    time.Now,
	}
}

// caller holds mu.
func (cb *CircuitBreaker) stateFor(name string) *blockState {
	bs, ok := cb.blocks[name]
	if !ok {
		bs = &blockState{state: StateClosed}
		cb.blocks[name] = bs
	}
	return bs
}

// AllowRequest reports whether name may be called. An open circuit whose
// reset timeout has passed moves to half-open and lets the call through.
func (cb *CircuitBreaker) AllowRequest(name string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	bs := cb.stateFor(name)
	switch bs.state {
	case StateOpen:
		if !cb.now().Before(bs.openUntil) {
			cb.transition(name, bs, StateHalfOpen)
			bs.consecutiveSuccesses = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordFailure counts a failed call.
func (cb *CircuitBreaker) RecordFailure(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	bs := cb.stateFor(name)
	switch bs.state {
	case StateClosed:
		bs.consecutiveFailures++
		if bs.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.open(name, bs)
		}
	case StateHalfOpen:
		cb.open(name, bs)
	}
}

// RecordSuccess counts a successful call.
func (cb *CircuitBreaker) RecordSuccess(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	bs := cb.stateFor(name)
	switch bs.state {
	case StateClosed:
		bs.consecutiveFailures = 0
	case StateHalfOpen:
		bs.consecutiveSuccesses++
		if bs.consecutiveSuccesses >= cb.cfg.HalfOpenSuccessThreshold {
			cb.transition(name, bs, StateClosed)
			bs.consecutiveFailures = 0
			bs.consecutiveSuccesses = 0
		}
	}
}

// GetBlockStatus returns the state and consecutive failure count without
// triggering the open to half-open transition.
func (cb *CircuitBreaker) GetBlockStatus(name string) (State, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	bs, ok := cb.blocks[name]
	if !ok {
		return StateClosed, 0
	}
	return bs.state, bs.consecutiveFailures
}

func (cb *CircuitBreaker) open(name string, bs *blockState) {
	cb.transition(name, bs, StateOpen)
	bs.openUntil = cb.now().Add(cb.cfg.ResetTimeout)
	bs.consecutiveFailures = 0
	bs.consecutiveSuccesses = 0
}

func (cb *CircuitBreaker) transition(name string, bs *blockState, to State) {
	bs.state = to
	circuitState.WithLabelValues(name).Set(float64(to))
}
