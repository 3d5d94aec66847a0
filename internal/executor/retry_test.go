package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestRetryPolicy_SucceedsFirstTry(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Retryable: func(Class) bool { return true }, sleep: noSleep}
	attempts, err := p.Run(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicy_RetriesTransient(t *testing.T) {
	calls := 0
	p := RetryPolicy{
		MaxAttempts: 2,
		Delay:       time.Millisecond,
		Retryable:   func(c Class) bool { return c == ClassTransient },
		sleep:       noSleep,
	}
	attempts, err := p.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryPolicy_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	p := RetryPolicy{
		MaxAttempts: 5,
		Retryable:   func(c Class) bool { return c == ClassTransient },
		sleep:       noSleep,
	}
	attempts, err := p.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("nonce too low")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_Exhausts(t *testing.T) {
	calls := 0
	p := RetryPolicy{MaxAttempts: 3, Retryable: func(Class) bool { return true }, sleep: noSleep}
	attempts, err := p.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("still failing")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_CancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{
		MaxAttempts: 3,
		Delay:       time.Minute,
		Retryable:   func(Class) bool { return true },
	}
	fnErr := errors.New("transient")
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	attempts, err := p.Run(ctx, func(ctx context.Context) error { return fnErr })
	assert.Equal(t, 1, attempts)
	assert.Equal(t, fnErr, err, "the operation error wins over the cancellation")
}

func TestRetryPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	p := RetryPolicy{sleep: noSleep}
	attempts, err := p.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}
