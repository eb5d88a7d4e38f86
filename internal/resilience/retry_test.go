package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umutsun/asemb/internal/asemberr"
)

func fastRetry(attempts int, codes ...asemberr.Code) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
		RetryableCodes:    codes,
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("Succeeds first try", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, fastRetry(3), func(context.Context) error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("Retries retryable code until success", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, fastRetry(5, asemberr.CodeProviderRateLimited), func(context.Context) error {
			calls++
			if calls < 3 {
				return asemberr.New(asemberr.CodeProviderRateLimited, "429", true)
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("Does not retry codes outside the whitelist", func(t *testing.T) {
		calls := 0
		permanent := asemberr.New(asemberr.CodeProviderAuth, "bad key", false)
		err := Retry(ctx, fastRetry(5, asemberr.CodeProviderRateLimited), func(context.Context) error {
			calls++
			return permanent
		})
		assert.Equal(t, 1, calls)
		assert.Same(t, permanent, err)
	})

	t.Run("Empty whitelist retries recoverable errors", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, fastRetry(3), func(context.Context) error {
			calls++
			return asemberr.New(asemberr.CodeStoreConnection, "refused", true)
		})
		assert.Equal(t, 3, calls)
		assert.Error(t, err)
	})

	t.Run("Last error propagates unchanged", func(t *testing.T) {
		final := asemberr.New(asemberr.CodeStoreQuery, "still broken", true)
		err := Retry(ctx, fastRetry(2, asemberr.CodeStoreQuery), func(context.Context) error {
			return final
		})
		assert.Same(t, final, err)
	})

	t.Run("Cancelled context stops retrying", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := Retry(cctx, fastRetry(10, asemberr.CodeStoreConnection), func(context.Context) error {
			calls++
			cancel()
			return asemberr.New(asemberr.CodeStoreConnection, "refused", true)
		})
		require.Error(t, err)
		assert.Equal(t, asemberr.CodeOperationCancelled, asemberr.CodeOf(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("Foreign errors are not retried", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, fastRetry(4), func(context.Context) error {
			calls++
			return errors.New("plain failure")
		})
		assert.Equal(t, 1, calls)
		assert.EqualError(t, err, "plain failure")
	})
}

func TestRegistryHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("No strategy passes error through", func(t *testing.T) {
		r := NewRegistry(nil)
		err := asemberr.New(asemberr.CodeInvalidInput, "bad", false)
		assert.Same(t, err, r.Handle(ctx, err, nil))
	})

	t.Run("Retry strategy recovers", func(t *testing.T) {
		r := NewRegistry(nil)
		cfg := fastRetry(3, asemberr.CodeStoreConnection)
		r.Register(asemberr.CodeStoreConnection, Strategy{Retry: &cfg})

		calls := 0
		first := asemberr.New(asemberr.CodeStoreConnection, "refused", true)
		err := r.Handle(ctx, first, func(context.Context) error {
			calls++
			if calls < 2 {
				return first
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("Fallback recovers after retry exhaustion", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Register(asemberr.CodeCacheUnavailable, Strategy{
			Fallback: func(context.Context) error { return nil },
		})

		err := r.Handle(ctx, asemberr.New(asemberr.CodeCacheUnavailable, "redis down", true), nil)
		assert.NoError(t, err)
	})

	t.Run("Notification fires on final failure", func(t *testing.T) {
		sink := &captureSink{}
		r := NewRegistry(sink)
		r.Register(asemberr.CodeProviderAuth, Strategy{Notify: true})

		err := r.Handle(ctx, asemberr.New(asemberr.CodeProviderAuth, "bad key", false), nil)
		assert.Error(t, err)
		require.Len(t, sink.events, 1)
		assert.Equal(t, asemberr.CodeProviderAuth, sink.events[0].code)
	})
}

type capturedEvent struct {
	code     asemberr.Code
	severity asemberr.Severity
	message  string
}

type captureSink struct {
	events []capturedEvent
}

func (s *captureSink) Publish(_ context.Context, code asemberr.Code, severity asemberr.Severity, message string) {
	s.events = append(s.events, capturedEvent{code, severity, message})
}
