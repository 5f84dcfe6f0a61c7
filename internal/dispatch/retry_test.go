package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paperlens/internal/providers"
)

type sleepLog struct {
	waits []time.Duration
	hook  func(n int)
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	if s.hook != nil {
		s.hook(len(s.waits))
	}
	return ctx.Err()
}

func transient() error {
	return &providers.ProviderError{Kind: providers.KindTransient, Status: 500, Message: "internal"}
}

func TestRetryTransientAttemptsAndDelays(t *testing.T) {
	for _, n := range []int{0, 1, 2, 4} {
		log := &sleepLog{}
		p := RetryPolicy{MaxRetries: n, BaseDelay: 100 * time.Millisecond, Sleep: log.sleep}
		calls := 0
		_, err := Retry(context.Background(), p, func(ctx context.Context) (string, error) {
			calls++
			return "", transient()
		})
		require.ErrorIs(t, err, providers.ErrTransient)
		require.Equal(t, n+1, calls, "retries=%d", n)
		want := make([]time.Duration, 0, n)
		d := 100 * time.Millisecond
		for i := 0; i < n; i++ {
			want = append(want, d)
			d *= 2
		}
		require.Equal(t, want, append([]time.Duration{}, log.waits...), "retries=%d", n)
	}
}

func TestRetryReturnsFirstSuccess(t *testing.T) {
	log := &sleepLog{}
	calls := 0
	v, err := Retry(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, Sleep: log.sleep}, func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, &providers.ProviderError{Kind: providers.KindOverloaded, Status: 503}
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 2, calls)
	require.Equal(t, []time.Duration{time.Second}, log.waits)
}

func TestRetryNonRetryableSingleAttempt(t *testing.T) {
	kinds := []providers.ErrorKind{
		providers.KindAuth, providers.KindBilling, providers.KindConfiguration,
		providers.KindQuota, providers.KindParse, providers.KindUnknown,
	}
	for _, k := range kinds {
		log := &sleepLog{}
		calls := 0
		want := &providers.ProviderError{Kind: k, Message: "boom"}
		_, err := Retry(context.Background(), RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond, Sleep: log.sleep}, func(ctx context.Context) (int, error) {
			calls++
			return 0, want
		})
		require.Equal(t, 1, calls, "kind %s", k)
		require.Same(t, want, err, "kind %s must propagate unchanged", k)
		require.Empty(t, log.waits)
	}
}

func TestRetryAbortDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	log := &sleepLog{hook: func(int) { cancel() }}
	calls := 0
	_, err := Retry(ctx, RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, Sleep: log.sleep}, func(ctx context.Context) (int, error) {
		calls++
		return 0, transient()
	})
	require.ErrorIs(t, err, providers.ErrAborted)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestRetryAbortBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Retry(ctx, DefaultRetryPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 1, nil
	})
	require.ErrorIs(t, err, providers.ErrAborted)
	require.Zero(t, calls)
}

func TestRetryAbortAfterFailedAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Retry(ctx, RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour}, func(ctx context.Context) (int, error) {
		cancel()
		return 0, errors.New("connection reset by peer")
	})
	require.ErrorIs(t, err, providers.ErrAborted)
}

func TestSleepContextObservesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.Error(t, sleepContext(ctx, time.Hour))
	require.Less(t, time.Since(start), time.Second)
}
