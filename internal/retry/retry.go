// Package retry provides the bounded backoff policy applied to calls against
// external collaborators (sink, fan-out).
package retry

import (
	"context"
	"time"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default matches the worker's per-entry contract: 3 attempts with the delay
// doubling from 500ms up to a 5s cap.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. The context
// is checked before every retry so shutdown is not held up by backoff.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	delay := p.BaseDelay

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
	}

	return err
}
