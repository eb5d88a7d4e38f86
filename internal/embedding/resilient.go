package embedding

import (
	"context"
	"time"

	"github.com/umutsun/asemb/internal/asemberr"
	"github.com/umutsun/asemb/internal/resilience"
)

// Resilient decorates a Provider with retry-with-backoff and a circuit
// breaker. Ingestion and the query path share one instance so the
// breaker sees every call to the dependency.
type Resilient struct {
	inner   Provider
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// DefaultProviderRetry retries rate limits and transient outages; auth
// and validation failures propagate immediately.
var DefaultProviderRetry = resilience.RetryConfig{
	MaxAttempts:       4,
	InitialDelay:      500 * time.Millisecond,
	MaxDelay:          10 * time.Second,
	BackoffMultiplier: 2,
	RetryableCodes: []asemberr.Code{
		asemberr.CodeProviderRateLimited,
		asemberr.CodeProviderUnavailable,
	},
}

func NewResilient(inner Provider, retry resilience.RetryConfig, breaker *resilience.Breaker) *Resilient {
	return &Resilient{inner: inner, retry: retry, breaker: breaker}
}

func (r *Resilient) Dimension() int { return r.inner.Dimension() }
func (r *Resilient) Model() string  { return r.inner.Model() }

// BreakerState exposes the provider breaker for the stats endpoint.
func (r *Resilient) BreakerState() resilience.BreakerState { return r.breaker.State() }

// Embed retries around the breaker: while the breaker is OPEN its
// fail-fast error is non-retryable, so callers return immediately
// instead of sleeping through backoff against a known-down dependency.
func (r *Resilient) Embed(ctx context.Context, texts []string) (*Result, error) {
	var result *Result
	err := resilience.Retry(ctx, r.retry, func(ctx context.Context) error {
		return r.breaker.Do(ctx, func(ctx context.Context) error {
			res, err := r.inner.Embed(ctx, texts)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
