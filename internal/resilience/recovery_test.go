package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umutsun/asemb/internal/asemberr"
)

type recordingSink struct {
	mu     sync.Mutex
	events []asemberr.Code
}

func (s *recordingSink) Publish(_ context.Context, code asemberr.Code, _ asemberr.Severity, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, code)
}

func (s *recordingSink) codes() []asemberr.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]asemberr.Code(nil), s.events...)
}

func TestRegistry_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("Nil error is a no-op", func(t *testing.T) {
		r := NewRegistry(nil)
		assert.NoError(t, r.Handle(ctx, nil, nil))
	})

	t.Run("Unregistered code propagates unchanged", func(t *testing.T) {
		r := NewRegistry(nil)
		original := asemberr.New(asemberr.CodeStoreQuery, "boom", false)
		assert.Same(t, original, r.Handle(ctx, original, nil))
	})

	t.Run("Retry recovers a transient failure", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Register(asemberr.CodeStoreConnection, Strategy{
			Retry: ptrRetry(fastRetry(3, asemberr.CodeStoreConnection)),
		})

		calls := 0
		err := r.Handle(ctx,
			asemberr.New(asemberr.CodeStoreConnection, "down", true),
			func(context.Context) error {
				calls++
				if calls < 2 {
					return asemberr.New(asemberr.CodeStoreConnection, "still down", true)
				}
				return nil
			})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("Non-recoverable error skips retry", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Register(asemberr.CodeStoreQuery, Strategy{
			Retry: ptrRetry(fastRetry(3, asemberr.CodeStoreQuery)),
		})

		calls := 0
		original := asemberr.New(asemberr.CodeStoreQuery, "bad column", false)
		err := r.Handle(ctx, original, func(context.Context) error {
			calls++
			return nil
		})
		assert.Same(t, original, err)
		assert.Zero(t, calls)
	})

	t.Run("Fallback recovers when retry is exhausted", func(t *testing.T) {
		r := NewRegistry(nil)
		fallbackRan := false
		r.Register(asemberr.CodeCacheUnavailable, Strategy{
			Fallback: func(context.Context) error {
				fallbackRan = true
				return nil
			},
		})

		err := r.Handle(ctx, asemberr.New(asemberr.CodeCacheUnavailable, "redis down", true), nil)
		assert.NoError(t, err)
		assert.True(t, fallbackRan)
	})

	t.Run("Failed fallback still propagates the original error", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Register(asemberr.CodeCacheUnavailable, Strategy{
			Fallback: func(context.Context) error { return errors.New("fallback broke too") },
		})

		original := asemberr.New(asemberr.CodeCacheUnavailable, "redis down", true)
		assert.Same(t, original, r.Handle(ctx, original, nil))
	})

	t.Run("Notifies the sink on final failure", func(t *testing.T) {
		sink := &recordingSink{}
		r := NewRegistry(sink)
		r.Register(asemberr.CodeProviderRateLimited, Strategy{
			Retry:  ptrRetry(fastRetry(2, asemberr.CodeProviderRateLimited)),
			Notify: true,
		})

		err := r.Handle(ctx,
			asemberr.New(asemberr.CodeProviderRateLimited, "429", true),
			func(context.Context) error {
				return asemberr.New(asemberr.CodeProviderRateLimited, "429", true)
			})
		require.Error(t, err)
		assert.Equal(t, []asemberr.Code{asemberr.CodeProviderRateLimited}, sink.codes())
	})

	t.Run("Successful recovery does not notify", func(t *testing.T) {
		sink := &recordingSink{}
		r := NewRegistry(sink)
		r.Register(asemberr.CodeStoreConnection, Strategy{
			Retry:  ptrRetry(fastRetry(3, asemberr.CodeStoreConnection)),
			Notify: true,
		})

		err := r.Handle(ctx,
			asemberr.New(asemberr.CodeStoreConnection, "down", true),
			func(context.Context) error { return nil })
		assert.NoError(t, err)
		assert.Empty(t, sink.codes())
	})
}

func TestDefaultStrategies(t *testing.T) {
	strategies := DefaultStrategies()

	require.Contains(t, strategies, asemberr.CodeStoreConnection)
	require.Contains(t, strategies, asemberr.CodeProviderRateLimited)
	require.Contains(t, strategies, asemberr.CodeCacheUnavailable)

	assert.True(t, strategies[asemberr.CodeStoreConnection].Notify)
	assert.NotNil(t, strategies[asemberr.CodeCacheUnavailable].Fallback)
	assert.Nil(t, strategies[asemberr.CodeCacheUnavailable].Retry)
}

func ptrRetry(cfg RetryConfig) *RetryConfig { return &cfg }
