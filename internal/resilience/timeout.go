package resilience

import (
	"context"
	"time"
)

// WithTimeout bounds op to the given wall-clock duration.
//
// On expiry it returns ErrTimeout and abandons the operation: op keeps its
// (canceled) context and is expected to unwind on its own, but WithTimeout
// does not wait for it. Partial results are discarded.
func WithTimeout(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTimeout
	}
}
