package delivery

import (
	"context"
	"time"

	"contentsync/internal/resilience"
)

// GuardConfig holds the per-sender resilience knobs, usually mapped from
// the channels section of the config file.
type GuardConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration

	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration

	RateMaxCalls int
	RateWindow   time.Duration

	CallTimeout time.Duration
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 15 * time.Second
	}
	if c.RateMaxCalls <= 0 {
		c.RateMaxCalls = 30
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

// guard bundles one sender's breaker, retry policy and rate limiter.
// Each sender owns its own instance; nothing here is shared across channels.
type guard struct {
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryPolicy
	limiter *resilience.RateLimiter
	timeout time.Duration
}

func newGuard(cfg GuardConfig) *guard {
	cfg = cfg.withDefaults()
	return &guard{
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			RecoveryTimeout:  cfg.RecoveryTimeout,
			IsFailure:        isTransportFailure,
		}),
		retry: resilience.NewRetryPolicy(resilience.RetryConfig{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBase,
			MaxDelay:   cfg.RetryMax,
		}),
		limiter: resilience.NewRateLimiter(cfg.RateMaxCalls, cfg.RateWindow),
		timeout: cfg.CallTimeout,
	}
}

// do runs op as breaker(retry(ratelimit(timeout(op)))).
//
// The breaker sits outermost so an open circuit fails fast without burning
// rate-limit slots or backoff time, and counts the post-retry outcome the
// same way operators reason about a send: one logical attempt.
func (g *guard) do(ctx context.Context, op func(ctx context.Context) error) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.retry.Do(ctx, func(ctx context.Context) error {
			if err := g.limiter.Wait(ctx); err != nil {
				return err
			}
			return resilience.WithTimeout(ctx, g.timeout, op)
		})
	})
}

// BreakerState exposes the circuit position for health reporting.
func (g *guard) BreakerState() resilience.BreakerState { return g.breaker.State() }
