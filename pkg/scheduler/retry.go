package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// RetryConfig holds configuration for dispatch retry with backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of send attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the delay after the first failed attempt.
	// Default: 1s
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	// Default: 16s
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to the delay after each failed attempt.
	// Default: 4.0
	BackoffMultiplier float64

	// JitterFraction is the fraction of backoff to randomize (0.0 to 1.0).
	// Default: 0
	JitterFraction float64
}

// DefaultRetryConfig returns the default retry configuration:
// three attempts spaced 1s and 4s apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        16 * time.Second,
		BackoffMultiplier: 4.0,
		JitterFraction:    0,
	}
}

// Backoff returns the delay to wait after the given failed attempt (1-based),
// before jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	backoff := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
		if backoff > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return min(backoff, c.MaxBackoff)
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWithBackoff runs operation until it succeeds, fails permanently or
// runs out of attempts. It returns the number of attempts made and the
// last error.
func retryWithBackoff(ctx context.Context, config RetryConfig, sleep sleepFunc, operation func(attempt int) error) (int, error) {
	var lastErr error
	attempts := max(config.MaxAttempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = operation(attempt)
		if lastErr == nil {
			return attempt, nil
		}

		if ctx.Err() != nil || !IsRetryableError(lastErr) || attempt >= attempts {
			return attempt, lastErr
		}

		backoff := config.Backoff(attempt)
		jitter := time.Duration(float64(backoff) * config.JitterFraction * (rand.Float64()*2 - 1))
		sleepDuration := backoff + jitter
		if sleepDuration < 0 {
			sleepDuration = backoff
		}

		if err := sleep(ctx, sleepDuration); err != nil {
			return attempt, lastErr
		}
	}

	return attempts, lastErr
}

// IsRetryableError determines if a failed send is worth retrying.
// Permanent delivery errors and cancellation are not; a send that hit its
// own deadline is.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !core.IsPermanent(err)
}
