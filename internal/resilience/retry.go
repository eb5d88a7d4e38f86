package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/umutsun/asemb/internal/asemberr"
)

// RetryConfig controls Retry. RetryableCodes whitelists the error codes
// worth retrying; when empty, any error marked recoverable is retried.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	RetryableCodes    []asemberr.Code
}

// DefaultRetry matches the store/provider policies the engine ships with.
var DefaultRetry = RetryConfig{
	MaxAttempts:       3,
	InitialDelay:      500 * time.Millisecond,
	MaxDelay:          5 * time.Second,
	BackoffMultiplier: 2,
}

func (c RetryConfig) shouldRetry(err error) bool {
	// An open breaker means the dependency is known down; backing off
	// against it would only delay the caller.
	if errors.Is(err, ErrBreakerOpen) {
		return false
	}
	if len(c.RetryableCodes) == 0 {
		return asemberr.IsRecoverable(err)
	}
	code := asemberr.CodeOf(err)
	for _, rc := range c.RetryableCodes {
		if rc == code {
			return true
		}
	}
	return false
}

// Retry runs op up to cfg.MaxAttempts times with geometric backoff
// capped at MaxDelay. Non-retryable errors and the last attempt's error
// propagate unchanged. Sleeps are context-aware so cancellation is not
// delayed by backoff.
func Retry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return asemberr.Wrap(err, asemberr.CodeOperationCancelled, "retry aborted", false)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				slog.DebugContext(ctx, "operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		if !cfg.shouldRetry(lastErr) || attempt == cfg.MaxAttempts {
			break
		}

		slog.DebugContext(ctx, "operation failed, retrying",
			"attempt", attempt, "max_attempts", cfg.MaxAttempts,
			"delay", delay, "code", string(asemberr.CodeOf(lastErr)))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return asemberr.Wrap(ctx.Err(), asemberr.CodeOperationCancelled, "retry aborted", false)
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}
