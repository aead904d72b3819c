package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// recordSleeps returns a sleepFunc that records delays without waiting.
func recordSleeps(into *[]time.Duration) sleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*into = append(*into, d)
		return ctx.Err()
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 1*time.Second, cfg.InitialBackoff)
	assert.Equal(t, 16*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 4.0, cfg.BackoffMultiplier)
	assert.Zero(t, cfg.JitterFraction)
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 1*time.Second, cfg.Backoff(1))
	assert.Equal(t, 4*time.Second, cfg.Backoff(2))
	assert.Equal(t, 16*time.Second, cfg.Backoff(3))
	assert.Equal(t, 16*time.Second, cfg.Backoff(4), "capped at MaxBackoff")
}

func TestRetryWithBackoff_SuccessOnFirstAttempt(t *testing.T) {
	var sleeps []time.Duration

	attempts, err := retryWithBackoff(context.Background(), DefaultRetryConfig(), recordSleeps(&sleeps), func(int) error {
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, sleeps)
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	var sleeps []time.Duration

	attempts, err := retryWithBackoff(context.Background(), DefaultRetryConfig(), recordSleeps(&sleeps), func(attempt int) error {
		if attempt < 3 {
			return core.Transient("rate limited", nil)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{1 * time.Second, 4 * time.Second}, sleeps)
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	var sleeps []time.Duration
	calls := 0

	attempts, err := retryWithBackoff(context.Background(), DefaultRetryConfig(), recordSleeps(&sleeps), func(int) error {
		calls++
		return core.Transient("503", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.Len(t, sleeps, 2, "no sleep after the last attempt")
}

func TestRetryWithBackoff_PermanentStopsImmediately(t *testing.T) {
	var sleeps []time.Duration
	calls := 0

	attempts, err := retryWithBackoff(context.Background(), DefaultRetryConfig(), recordSleeps(&sleeps), func(int) error {
		calls++
		return core.Permanent("channel_not_found", nil)
	})

	assert.True(t, core.IsPermanent(err))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeps)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	attempts, err := retryWithBackoff(ctx, DefaultRetryConfig(), sleepContext, func(int) error {
		calls++
		cancel()
		return core.Transient("timeout", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_Jitter(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.JitterFraction = 0.5
	var sleeps []time.Duration

	_, _ = retryWithBackoff(context.Background(), cfg, recordSleeps(&sleeps), func(int) error {
		return errors.New("flaky")
	})

	require.Len(t, sleeps, 2)
	assert.InDelta(t, float64(time.Second), float64(sleeps[0]), float64(500*time.Millisecond))
	assert.InDelta(t, float64(4*time.Second), float64(sleeps[1]), float64(2*time.Second))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.False(t, IsRetryableError(core.Permanent("invalid target", nil)))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.True(t, IsRetryableError(core.Transient("429", nil)))
	assert.True(t, IsRetryableError(errors.New("connection reset")))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
