package retry_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/jrsteele09/sso-gateway/retry"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

type recordedWaits struct {
	waits []time.Duration
}

func (r *recordedWaits) wait(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func newPolicy(rec *recordedWaits) retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Backoff:     retry.Linear(200 * time.Millisecond),
		IsRetryable: func(err error) bool { return errors.Is(err, errTransient) },
		Wait:        rec.wait,
	}
}

func TestDo(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		rec := &recordedWaits{}
		attempts, err := newPolicy(rec).Do(context.Background(), func(context.Context, int) error { return nil })
		require.NoError(t, err)
		require.Equal(t, 1, attempts)
		require.Empty(t, rec.waits)
	})

	t.Run("transient then success", func(t *testing.T) {
		rec := &recordedWaits{}
		attempts, err := newPolicy(rec).Do(context.Background(), func(_ context.Context, attempt int) error {
			if attempt < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
		require.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, rec.waits)
	})

	t.Run("exhausted", func(t *testing.T) {
		rec := &recordedWaits{}
		calls := 0
		attempts, err := newPolicy(rec).Do(context.Background(), func(context.Context, int) error {
			calls++
			return errTransient
		})
		require.ErrorIs(t, err, errTransient)
		require.Equal(t, 3, attempts)
		require.Equal(t, 3, calls)
		require.Len(t, rec.waits, 2)
	})

	t.Run("terminal error is not retried", func(t *testing.T) {
		rec := &recordedWaits{}
		terminal := errors.New("invalid_grant")
		calls := 0
		attempts, err := newPolicy(rec).Do(context.Background(), func(context.Context, int) error {
			calls++
			return terminal
		})
		require.ErrorIs(t, err, terminal)
		require.Equal(t, 1, attempts)
		require.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		policy := retry.Policy{
			MaxAttempts: 3,
			Backoff:     retry.Linear(time.Hour),
			IsRetryable: func(error) bool { return true },
		}
		calls := 0
		attempts, err := policy.Do(ctx, func(context.Context, int) error {
			calls++
			return errTransient
		})
		require.ErrorIs(t, err, errTransient)
		require.Equal(t, 1, attempts)
		require.Equal(t, 1, calls)
	})
}

func TestSleep(t *testing.T) {
	require.NoError(t, retry.Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, retry.Sleep(ctx, time.Hour), context.Canceled)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestIsTransientNetworkError(t *testing.T) {
	require.False(t, retry.IsTransientNetworkError(nil))
	require.True(t, retry.IsTransientNetworkError(context.DeadlineExceeded))
	require.True(t, retry.IsTransientNetworkError(fmt.Errorf("read: %w", syscall.ECONNRESET)))
	require.True(t, retry.IsTransientNetworkError(&net.OpError{Op: "dial", Err: syscall.ETIMEDOUT}))
	require.True(t, retry.IsTransientNetworkError(fmt.Errorf("post: %w", timeoutError{})))
	require.False(t, retry.IsTransientNetworkError(errors.New("invalid_grant")))
	require.False(t, retry.IsTransientNetworkError(context.Canceled))
}
