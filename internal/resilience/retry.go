package resilience

import (
	"context"
	"math"
	"time"
)

// RetryConfig controls a RetryPolicy.
//
// MaxRetries is the number of ADDITIONAL attempts after the first one, so an
// operation runs at most MaxRetries+1 times.
type RetryConfig struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 15 * time.Second
	}
	if c.ExponentialBase <= 1 {
		c.ExponentialBase = 2
	}
	return c
}

// RetryPolicy wraps an operation with bounded exponential-backoff retries.
//
// Backoff is deterministic (no jitter): the delay before retry n (0-indexed)
// is min(BaseDelay * ExponentialBase^n, MaxDelay). After the final attempt
// fails, the last error is returned unchanged so callers can still match it
// with errors.Is/As instead of unwrapping a retry wrapper.
type RetryPolicy struct {
	cfg RetryConfig

	// sleep is swappable so tests don't wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	return &RetryPolicy{cfg: cfg.withDefaults(), sleep: sleepCtx}
}

// Do runs op, retrying on any error up to MaxRetries additional times.
// A canceled context aborts the backoff wait and returns ctx.Err().
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.delay(attempt-1)); err != nil {
				return err
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (p *RetryPolicy) delay(n int) time.Duration {
	d := time.Duration(float64(p.cfg.BaseDelay) * math.Pow(p.cfg.ExponentialBase, float64(n)))
	if d > p.cfg.MaxDelay || d <= 0 {
		d = p.cfg.MaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
