// Package circuitbreaker stops calling the provider after repeated
// transient failures, so an outage fails the remaining forecast batches fast
// instead of spending the full retry budget on each.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Call while the circuit rejects calls.
var ErrOpen = errors.New("circuit breaker open")

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

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

// Config holds circuit breaker parameters. Zero values take defaults.
type Config struct {
	FailureThreshold int           // consecutive failures that open the circuit (default 5)
	SuccessThreshold int           // half-open successes that close it (default 1)
	OpenTimeout      time.Duration // time open before a probe is allowed (default 30s)

	// IsFailure decides which errors count against the circuit. Nil counts
	// every non-nil error.
	IsFailure     func(error) bool
	OnStateChange func(from, to State)
}

type CircuitBreaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	probing   bool
	cfg       Config
	now       func() time.Time
}

func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Call runs fn when the circuit allows it. While open it returns ErrOpen
// without calling fn. After OpenTimeout a single probe runs in half-open
// state; concurrent callers keep getting ErrOpen until the probe settles.
// Context cancellation is returned as-is and never counts as a failure.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn()

	switch {
	case err != nil && ctx.Err() != nil:
		cb.release(outcomeAborted)
	case err != nil && cb.cfg.IsFailure(err):
		cb.release(outcomeFailure)
	default:
		cb.release(outcomeSuccess)
	}
	return err
}

// outcome is how a call settled. An aborted call says nothing about the
// provider and leaves the counters alone.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeAborted
)

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.OpenTimeout {
			return ErrOpen
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			return ErrOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) release(result outcome) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if result == outcomeAborted {
		if cb.state == StateHalfOpen {
			cb.probing = false
		}
		return
	}

	if cb.state == StateHalfOpen {
		cb.probing = false
		if result == outcomeFailure {
			cb.open()
			return
		}
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.failures = 0
			cb.transition(StateClosed)
		}
		return
	}

	if result == outcomeSuccess {
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold {
		cb.open()
	}
}

// open must be called with mu held.
func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.failures = 0
	cb.transition(StateOpen)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.successes = 0
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
