// Package resilience holds the fault-tolerance primitives every outbound
// call in this repo is wrapped in: circuit breaker, bounded retry with
// exponential backoff, sliding-window rate limiting and timeout guards.
package resilience

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls a single CircuitBreaker instance.
//
// IsFailure classifies errors: only errors it accepts count against the
// threshold. Everything else passes through without touching breaker state,
// so a caller-side validation error cannot trip the circuit for everyone.
// A nil IsFailure counts every error.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	IsFailure        func(error) bool
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	return c
}

// CircuitBreaker stops invoking a failing dependency until it is likely to
// have recovered. One instance protects one call site; instances are not
// shared between senders.
//
// Transitions (checked lazily on Do, no background timer):
//
//	closed    -> open       after FailureThreshold consecutive failures
//	open      -> half_open  once RecoveryTimeout elapsed since the last failure
//	half_open -> closed     on the next success
//	half_open -> open       on the next failure (no threshold needed)
type CircuitBreaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probing     bool

	now func() time.Time
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg.withDefaults(),
		state: BreakerClosed,
		now:   time.Now,
	}
}

// State reports the current position, applying the lazy open->half_open
// check so diagnostics match what the next Do would see.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.cfg.RecoveryTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Failures reports the consecutive classified-failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Do invokes op under the breaker.
//
// When the circuit is open and the recovery timeout has not elapsed, op is
// never called and ErrCircuitOpen is returned. In half_open exactly one
// in-flight probe is allowed; concurrent callers get ErrCircuitOpen until
// the probe settles.
func (b *CircuitBreaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := op(ctx)

	b.settle(err)
	return err
}

func (b *CircuitBreaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *CircuitBreaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.probing
	b.probing = false

	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	if b.cfg.IsFailure != nil && !b.cfg.IsFailure(err) {
		// Unclassified errors pass through without moving the state machine.
		return
	}

	b.failures++
	b.lastFailure = b.now()

	if wasProbe && b.state == BreakerHalfOpen {
		// A failed probe reopens immediately, threshold does not apply.
		b.state = BreakerOpen
		return
	}
	if b.failures >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
	}
}
