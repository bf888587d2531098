package canarystore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker stops calling the config index after maxFailures consecutive
// outages. While open, calls fail with ErrBackendUnavailable. Once cooldown
// has passed a single probe is let through; its outcome closes or reopens
// the circuit, and other calls keep failing fast until it returns.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	onChange    func(from, to CircuitState)

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker opens after maxFailures (default 5) and probes after cooldown.
func NewCircuitBreaker(name string, maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// WithStateChangeCallback registers fn for every transition. fn runs with
// the breaker locked and must not call back into it.
func (cb *CircuitBreaker) WithStateChangeCallback(fn func(from, to CircuitState)) *CircuitBreaker {
	cb.onChange = fn
	return cb
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	probe, ok := cb.admit()
	if !ok {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"breaker": cb.name,
			"state":   cb.State().String(),
		})
	}
	err := fn()
	cb.settle(probe, isOutage(ctx, err))
	return err
}

func (cb *CircuitBreaker) admit() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false, false
		}
		cb.transition(CircuitHalfOpen)
	}
	if cb.probing {
		return false, false
	}
	cb.probing = true
	return true, true
}

// isOutage reports whether err says the dependency is unhealthy. Missing
// keys, lost optimistic transactions, permanent errors and the caller's own
// cancellation do not.
func isOutage(ctx context.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, redis.Nil), errors.Is(err, redis.TxFailedErr), IsPermanent(err):
		return false
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return false
	}
	return true
}

func (cb *CircuitBreaker) settle(probe, outage bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	if !outage {
		cb.failures = 0
		if probe {
			cb.transition(CircuitClosed)
		}
		return
	}

	cb.failures++
	if probe || (cb.state == CircuitClosed && cb.failures >= cb.maxFailures) {
		cb.openedAt = cb.now()
		cb.transition(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onChange != nil {
		cb.onChange(from, to)
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures is the current run of consecutive outages.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	cb.transition(CircuitClosed)
}
