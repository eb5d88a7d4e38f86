// Package cache implements the engine's multi-tier read path: a bounded
// in-process LRU (L1) in front of a shared store (L2), falling back to
// origin compute. The L2 tier sits behind a circuit breaker, so a cache
// outage degrades the engine to "always recompute" instead of blocking.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/umutsun/asemb/internal/asemberr"
	"github.com/umutsun/asemb/internal/resilience"
)

const (
	DefaultL1Size = 1000
	DefaultTTL    = time.Hour
)

// Options configures a single GetOrCompute call.
type Options struct {
	TTL time.Duration
	// Stale permits returning an expired L1 entry when both L2 and the
	// compute function are unavailable. Never on by default: outages
	// must not silently serve stale data as fresh.
	Stale bool
}

// Stats are cumulative counters for the cache layers.
type Stats struct {
	Hits    int64 `json:"hits"`
	HitsL1  int64 `json:"hitsL1"`
	HitsL2  int64 `json:"hitsL2"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Deletes int64 `json:"deletes"`
}

type l1Entry struct {
	value     []byte
	expiresAt time.Time
}

func (e l1Entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MultiLayer is the multi-tier cache. Values are opaque serialized
// payloads; callers own encoding. Safe for concurrent use: the LRU is
// internally synchronized and everything else is atomic.
type MultiLayer struct {
	l1      *lru.Cache[string, l1Entry]
	l2      Store
	breaker *resilience.Breaker
	ttl     time.Duration
	now     func() time.Time

	hits, hitsL1, hitsL2, misses, sets, deletes atomic.Int64
}

// New creates a MultiLayer. l2 may be nil for a single-tier deployment;
// breaker may be nil when l2 is nil.
func New(l1Size int, defaultTTL time.Duration, l2 Store, breaker *resilience.Breaker) (*MultiLayer, error) {
	if l1Size <= 0 {
		l1Size = DefaultL1Size
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	l1, err := lru.New[string, l1Entry](l1Size)
	if err != nil {
		return nil, asemberr.Wrap(err, asemberr.CodeInternal, "create l1 cache", false)
	}
	return &MultiLayer{
		l1:      l1,
		l2:      l2,
		breaker: breaker,
		ttl:     defaultTTL,
		now:     time.Now,
	}, nil
}

// Get reads key from L1 then L2, backfilling L1 on an L2 hit. Expired
// entries are treated as absent.
func (c *MultiLayer) Get(ctx context.Context, key string) ([]byte, bool) {
	value, _, ok := c.get(ctx, key, false)
	return value, ok
}

// get returns (value, wasStale, found). stale=true additionally allows
// an expired L1 entry when L2 is unreachable.
func (c *MultiLayer) get(ctx context.Context, key string, stale bool) ([]byte, bool, bool) {
	now := c.now()

	if entry, ok := c.l1.Get(key); ok && !entry.expired(now) {
		c.hits.Add(1)
		c.hitsL1.Add(1)
		return entry.value, false, true
	}

	if c.l2 != nil {
		var value []byte
		err := c.l2do(ctx, func(ctx context.Context) error {
			v, err := c.l2.Get(ctx, key)
			if err != nil {
				return err
			}
			value = v
			return nil
		})
		switch {
		case err == nil:
			c.l1.Add(key, l1Entry{value: value, expiresAt: now.Add(c.ttl)})
			c.hits.Add(1)
			c.hitsL2.Add(1)
			return value, false, true
		case errors.Is(err, ErrMiss):
			// fall through to miss
		default:
			slog.DebugContext(ctx, "l2 cache unavailable", "key", key, "error", err)
			if stale {
				if entry, ok := c.l1.Peek(key); ok {
					slog.WarnContext(ctx, "serving stale cache entry", "key", key)
					return entry.value, true, true
				}
			}
		}
	}

	c.misses.Add(1)
	return nil, false, false
}

// Set writes key into both tiers. An L2 failure is not fatal: the L1
// write already happened and the breaker absorbs repeated failures.
func (c *MultiLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.l1.Add(key, l1Entry{value: value, expiresAt: c.now().Add(ttl)})
	c.sets.Add(1)

	if c.l2 == nil {
		return
	}
	err := c.l2do(ctx, func(ctx context.Context) error {
		return c.l2.Set(ctx, key, value, ttl)
	})
	if err != nil {
		slog.DebugContext(ctx, "l2 cache set failed", "key", key, "error", err)
	}
}

// Delete removes key from both tiers.
func (c *MultiLayer) Delete(ctx context.Context, key string) {
	c.l1.Remove(key)
	c.deletes.Add(1)
	if c.l2 == nil {
		return
	}
	err := c.l2do(ctx, func(ctx context.Context) error {
		_, err := c.l2.Del(ctx, key)
		return err
	})
	if err != nil {
		slog.DebugContext(ctx, "l2 cache delete failed", "key", key, "error", err)
	}
}

// GetOrCompute is the cache-aside read path: cached value if fresh,
// otherwise compute, store in both tiers, and return. When compute
// fails and opts.Stale is set, an expired L1 entry is returned as a
// last resort.
func (c *MultiLayer) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error), opts Options) ([]byte, error) {
	if value, _, ok := c.get(ctx, key, opts.Stale); ok {
		return value, nil
	}

	value, err := compute(ctx)
	if err != nil {
		if opts.Stale {
			if entry, ok := c.l1.Peek(key); ok {
				slog.WarnContext(ctx, "compute failed, serving stale cache entry", "key", key, "error", err)
				return entry.value, nil
			}
		}
		return nil, err
	}

	c.Set(ctx, key, value, opts.TTL)
	return value, nil
}

// InvalidatePattern removes every key matching the glob pattern from
// both tiers and returns the number of entries removed.
func (c *MultiLayer) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	count := 0

	for _, key := range c.l1.Keys() {
		if globMatch(pattern, key) {
			c.l1.Remove(key)
			count++
		}
	}

	if c.l2 != nil {
		err := c.l2do(ctx, func(ctx context.Context) error {
			keys, err := c.l2.ScanByPrefix(ctx, pattern)
			if err != nil {
				return err
			}
			removed, err := c.l2.Del(ctx, keys...)
			if err != nil {
				return err
			}
			count += removed
			return nil
		})
		if err != nil {
			return count, asemberr.Wrap(err, asemberr.CodeCacheOperation, "invalidate pattern", true)
		}
	}

	c.deletes.Add(int64(count))
	return count, nil
}

// l2do routes an L2 operation through the breaker when one is
// configured. A cache miss is a result, not a failure, so it is hidden
// from the breaker's failure counting but still reported to the caller.
func (c *MultiLayer) l2do(ctx context.Context, op func(ctx context.Context) error) error {
	if c.breaker == nil {
		return op(ctx)
	}
	var missed bool
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		err := op(ctx)
		if errors.Is(err, ErrMiss) {
			missed = true
			return nil
		}
		return err
	})
	if err == nil && missed {
		return ErrMiss
	}
	return err
}

// Stats returns a snapshot of the counters.
func (c *MultiLayer) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		HitsL1:  c.hitsL1.Load(),
		HitsL2:  c.hitsL2.Load(),
		Misses:  c.misses.Load(),
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
	}
}

// BreakerState exposes the L2 breaker for the stats endpoint.
func (c *MultiLayer) BreakerState() resilience.BreakerState {
	if c.breaker == nil {
		return resilience.StateClosed
	}
	return c.breaker.State()
}
