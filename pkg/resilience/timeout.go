package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout bounds fn to the given wall-clock budget. A non-positive
// timeout runs fn directly on the caller's context. On expiry the returned
// error wraps context.DeadlineExceeded; fn's goroutine is left to notice
// the cancelled context and drain on its own.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	bounded, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(bounded)
	}()

	select {
	case err := <-done:
		return err
	case <-bounded.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s: %w (limit: %v)", name, context.DeadlineExceeded, timeout)
	}
}
