// Package poll implements the fixed-interval, hard-deadline wait used
// at every point where the pipeline blocks on an asynchronous provider
// operation (cross-region copy, crawler run, query execution).
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the condition does not hold before the deadline.
var ErrTimeout = errors.New("poll: condition not met before deadline")

// Condition reports whether the awaited state has been reached. A
// non-nil error aborts the wait immediately.
type Condition func(ctx context.Context) (done bool, err error)

// Until evaluates cond every interval until it returns true, returns
// an error, or the wall-clock timeout elapses. The first evaluation
// happens immediately. No backoff: the services being polled are
// externally rate-managed and the intervals are coarse.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	deadline := time.Now().Add(timeout)

	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("%w (timeout %s)", ErrTimeout, timeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("poll cancelled: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// WithTimeout wraps a context with a per-step timeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}
