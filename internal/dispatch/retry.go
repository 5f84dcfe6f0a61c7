package dispatch

import (
	"context"
	"fmt"
	"time"

	"paperlens/internal/providers"
)

// RetryPolicy retries transient failures with exponential backoff (factor 2).
// MaxRetries retries means at most MaxRetries+1 attempts.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: time.Second}
}

// Retry runs op under p. Fatal kinds return after one attempt, and a done
// ctx always yields providers.ErrAborted, even with retries left.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	retries := p.MaxRetries
	delay := p.BaseDelay
	for {
		if ctx.Err() != nil {
			return zero, Aborted(ctx)
		}
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, Aborted(ctx)
		}
		kind := providers.Classify(err)
		if kind.Fatal() || !kind.Retryable() || retries <= 0 {
			return zero, err
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, Aborted(ctx)
		}
		retries--
		delay *= 2
	}
}

// Aborted is the error every layer returns once ctx is done.
func Aborted(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return fmt.Errorf("%w: %w", providers.ErrAborted, cause)
	}
	return providers.ErrAborted
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
