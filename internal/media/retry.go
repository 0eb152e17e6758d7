package media

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig contains configuration for exponential backoff on open
type RetryConfig struct {
	MaxRetries    int           // Additional attempts after the first (default: 2)
	RetryDelay    time.Duration // Initial retry delay (default: 50ms)
	MaxRetryDelay time.Duration // Delay cap (default: 400ms)
}

// DefaultRetryConfig returns the open retry policy used by the engine.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		RetryDelay:    50 * time.Millisecond,
		MaxRetryDelay: 400 * time.Millisecond,
	}
}

// OpenWithRetry calls open until it succeeds, fails with a category that
// cannot improve on retry (codec, not-found), retries run out, or ctx ends.
//
// Backoff schedule with defaults: 50ms, 100ms.
func OpenWithRetry[T any](ctx context.Context, label string, cfg RetryConfig, open func() (T, error)) (T, error) {
	var zero T
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := open()
		if err == nil {
			if attempt > 0 {
				slog.Info("media: opened after retry", "label", label, "attempts", attempt+1)
			}
			return v, nil
		}

		category := CategoryOf(err)
		if !category.Retryable() {
			return zero, err
		}

		attempt++
		if attempt > cfg.MaxRetries {
			return zero, fmt.Errorf("media: %s: max retries exceeded (%d attempts): %w", label, attempt, err)
		}

		delay := calculateBackoff(attempt, cfg)
		slog.Debug("media: retrying open",
			"label", label,
			"attempt", attempt,
			"delay", delay,
			"category", category.String(),
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped.
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
