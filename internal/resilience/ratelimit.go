package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiter caps outbound call rate against a sliding time window:
// at most MaxCalls calls within any trailing Window.
//
// This is deliberately NOT a token bucket. Provider quotas for bulk mail
// and CMS APIs are expressed as "N requests per window", and a sliding
// window enforces exactly that instead of allowing a fixed-bucket burst at
// the reset boundary.
type RateLimiter struct {
	maxCalls int
	window   time.Duration

	mu    sync.Mutex
	calls []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(maxCalls int, window time.Duration) *RateLimiter {
	if maxCalls <= 0 {
		maxCalls = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Wait blocks until a call slot is available, then records the call.
//
// Each round prunes timestamps older than the window; when the window is
// full it sleeps until the oldest recorded call ages out and re-checks,
// because other waiters may have claimed the freed slot first.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := r.now()
		r.pruneLocked(now)

		if len(r.calls) < r.maxCalls {
			r.calls = append(r.calls, now)
			r.mu.Unlock()
			return nil
		}

		wait := r.window - now.Sub(r.calls[0])
		r.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Pending reports how many calls currently sit inside the window.
func (r *RateLimiter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	return len(r.calls)
}

func (r *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.calls) && !r.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.calls = append(r.calls[:0], r.calls[i:]...)
	}
}
