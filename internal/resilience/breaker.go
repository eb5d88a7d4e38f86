package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/umutsun/asemb/internal/asemberr"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// ErrBreakerOpen is wrapped into every fail-fast error so callers can
// distinguish "dependency skipped" from "dependency failed".
var ErrBreakerOpen = errors.New("circuit breaker is open")

const (
	DefaultBreakerThreshold    = 5
	DefaultBreakerResetTimeout = 30 * time.Second
)

// Breaker is a per-dependency circuit breaker. It opens after threshold
// consecutive failures, moves to half-open once the reset timeout passes,
// and a single trial call then decides: success closes the breaker,
// failure reopens it. All state is guarded by one mutex since many
// workers hit the same dependency concurrently.
type Breaker struct {
	name         string
	failCode     asemberr.Code
	threshold    int
	resetTimeout time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker creates a closed breaker. failCode is the error code
// surfaced on fail-fast so each dependency reports in its own domain.
func NewBreaker(name string, failCode asemberr.Code, threshold int, resetTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultBreakerResetTimeout
	}
	return &Breaker{
		name:         name,
		failCode:     failCode,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// Do runs op under the breaker. While OPEN it fails fast without
// invoking op; after the reset timeout the next caller becomes the
// HALF_OPEN probe and concurrent callers keep failing fast until the
// probe settles.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return b.openErr()
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return b.openErr()
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if success {
			b.state = StateClosed
			b.failures = 0
		} else {
			b.state = StateOpen
			b.openedAt = b.now()
		}
		return
	}

	if success {
		b.failures = 0
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

func (b *Breaker) openErr() *asemberr.Error {
	return &asemberr.Error{
		Code:        b.failCode,
		Message:     fmt.Sprintf("%s unavailable, circuit open after %d failures", b.name, b.failures),
		Recoverable: false,
		Err:         ErrBreakerOpen,
	}
}

// State returns the current state, accounting for an elapsed reset
// timeout so status endpoints never report a stale OPEN.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed. Used by operators after a dependency
// is known healthy again.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}
