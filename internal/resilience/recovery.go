package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/umutsun/asemb/internal/asemberr"
)

// EventSink receives error notifications. The notify package provides
// the production implementation; the indirection keeps the retry/breaker
// core decoupled from the transport.
type EventSink interface {
	Publish(ctx context.Context, code asemberr.Code, severity asemberr.Severity, message string)
}

// Strategy is the recovery policy for one error code: an optional retry
// config, an optional fallback, and whether to notify on final failure.
type Strategy struct {
	Retry    *RetryConfig
	Fallback func(ctx context.Context) error
	Notify   bool
}

// Registry maps error codes to recovery strategies so each dependency
// (store, provider, cache) carries an independent policy.
type Registry struct {
	mu         sync.RWMutex
	strategies map[asemberr.Code]Strategy
	sink       EventSink
}

func NewRegistry(sink EventSink) *Registry {
	return &Registry{
		strategies: make(map[asemberr.Code]Strategy),
		sink:       sink,
	}
}

// Register installs the strategy for a code, replacing any previous one.
func (r *Registry) Register(code asemberr.Code, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[code] = s
}

// Handle applies the registered recovery for err: retry first, then the
// fallback, then notification. op re-runs the failed operation. The
// original error propagates when no recovery path succeeds.
func (r *Registry) Handle(ctx context.Context, err error, op func(ctx context.Context) error) error {
	if err == nil {
		return nil
	}

	code := asemberr.CodeOf(err)
	r.mu.RLock()
	strategy, ok := r.strategies[code]
	r.mu.RUnlock()
	if !ok {
		return err
	}

	if strategy.Retry != nil && op != nil && asemberr.IsRecoverable(err) {
		retryErr := Retry(ctx, *strategy.Retry, op)
		if retryErr == nil {
			return nil
		}
		err = retryErr
	}

	if strategy.Fallback != nil {
		if fbErr := strategy.Fallback(ctx); fbErr == nil {
			slog.WarnContext(ctx, "recovered via fallback", "code", string(code))
			return nil
		}
	}

	if strategy.Notify && r.sink != nil {
		ae := asemberr.Wrap(err, code, "unrecovered failure", false)
		r.sink.Publish(ctx, ae.Code, ae.Severity(), ae.Error())
	}

	return err
}

// DefaultStrategies returns the engine's stock policies: store
// connectivity retried hard with notification, provider rate limits
// retried with long backoff, cache failures degrade silently.
func DefaultStrategies() map[asemberr.Code]Strategy {
	return map[asemberr.Code]Strategy{
		asemberr.CodeStoreConnection: {
			Retry: &RetryConfig{
				MaxAttempts:       5,
				InitialDelay:      time.Second,
				MaxDelay:          30 * time.Second,
				BackoffMultiplier: 2,
				RetryableCodes:    []asemberr.Code{asemberr.CodeStoreConnection, asemberr.CodeStorePoolExhausted},
			},
			Notify: true,
		},
		asemberr.CodeProviderRateLimited: {
			Retry: &RetryConfig{
				MaxAttempts:       5,
				InitialDelay:      5 * time.Second,
				MaxDelay:          60 * time.Second,
				BackoffMultiplier: 2,
				RetryableCodes:    []asemberr.Code{asemberr.CodeProviderRateLimited},
			},
			Notify: true,
		},
		asemberr.CodeCacheUnavailable: {
			// Cache outages fall through to recompute; nothing to retry.
			Fallback: func(ctx context.Context) error { return nil },
		},
	}
}
