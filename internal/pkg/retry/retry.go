// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

// Config defines retry behavior for operations
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Retryable decides whether an error is worth another attempt.
	// Defaults to errors coded storage_unavailable.
	Retryable func(error) bool
}

// DefaultConfig is used for calls against object storage
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
	}
}

func storageRetryable(err error) bool {
	return apperr.HasCode(err, apperr.CodeStorageUnavailable)
}

// Delay returns the wait before the given attempt (0-based; attempt 0 has none).
func (c Config) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Do executes operation until it succeeds, fails with a non-retryable error,
// the attempts are used up or ctx is done.
func Do(ctx context.Context, config Config, operation func(ctx context.Context) error) error {
	retryable := config.Retryable
	if retryable == nil {
		retryable = storageRetryable
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if delay := config.Delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}
