package circuitbreaker

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
)

// Fallback produces a substitute result while the breaker rejects calls.
// err is the *OpenError the caller would otherwise receive.
type Fallback func(ctx context.Context, err error) (any, error)

// StateChangeFunc observes state transitions. It runs after the breaker's
// lock is released, so it may call Metrics.
type StateChangeFunc func(name string, from, to State)

// Option configures a Breaker
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the breaker
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithResetTimeout sets how long the breaker stays open before allowing a trial call
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithFallback sets the substitute used while the breaker is open
func WithFallback(fn Fallback) Option {
	return func(b *Breaker) {
		b.fallback = fn
	}
}

// WithFailurePredicate decides which errors count as failures. Errors for
// which it returns false pass through without touching the counters.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(b *Breaker) {
		if fn != nil {
			b.isFailure = fn
		}
	}
}

// WithStateChange registers a transition observer
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// defaultIsFailure ignores caller cancellation, which says nothing about the
// health of the dependency.
func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}
