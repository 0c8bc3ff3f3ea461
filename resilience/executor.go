package resilience

import (
	"context"
	"time"
)

// Executor composes the guards configured on it.
type Executor struct {
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	circuitBreaker *CircuitBreaker
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new executor. With no options it runs operations
// unguarded.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithRateLimiter adds rate limiting to the executor.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithBulkhead adds bulkhead isolation to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithTimeout adds a per-call timeout to the executor.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(TimeoutConfig{Timeout: timeout})
	}
}

// WithTimeoutConfig adds a preconfigured timeout to the executor.
func WithTimeoutConfig(t *Timeout) ExecutorOption {
	return func(e *Executor) {
		e.timeout = t
	}
}

// Execute runs op through the configured guards, outermost first:
// rate limiter, bulkhead, circuit breaker, timeout.
//
// A call rejected by the rate limiter or the bulkhead never reaches the
// circuit breaker, so local back-pressure does not open the circuit.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	run := op
	guards := e.chain()
	for i := len(guards) - 1; i >= 0; i-- {
		g, inner := guards[i], run
		run = func(ctx context.Context) error {
			return g.Execute(ctx, inner)
		}
	}
	return run(ctx)
}

type guard interface {
	Execute(ctx context.Context, op func(context.Context) error) error
}

// chain returns the configured guards, outermost first.
func (e *Executor) chain() []guard {
	guards := make([]guard, 0, 4)
	if e.rateLimiter != nil {
		guards = append(guards, e.rateLimiter)
	}
	if e.bulkhead != nil {
		guards = append(guards, e.bulkhead)
	}
	if e.circuitBreaker != nil {
		guards = append(guards, e.circuitBreaker)
	}
	if e.timeout != nil {
		guards = append(guards, e.timeout)
	}
	return guards
}
