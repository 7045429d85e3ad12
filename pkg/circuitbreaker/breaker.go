package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Breaker guards calls to one external dependency. Safe for concurrent use.
// Counters belong to the instance; create one breaker per dependency.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	resetTimeout     time.Duration
	fallback         Fallback
	isFailure        func(error) bool
	onStateChange    StateChangeFunc
	now              func() time.Time

	state       State
	failures    int
	nextRetryAt time.Time
	probing     bool
}

// Metrics is a point-in-time snapshot of a breaker
type Metrics struct {
	Name        string    `json:"name"`
	State       State     `json:"-"`
	StateName   string    `json:"state"`
	Failures    int       `json:"failures"`
	NextRetryAt time.Time `json:"next_retry_at,omitzero"`
}

// New creates a closed breaker named after the dependency it guards
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: DefaultFailureThreshold,
		resetTimeout:     DefaultResetTimeout,
		isFailure:        defaultIsFailure,
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn through the breaker
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do runs fn through the breaker and returns its result. While the breaker
// rejects calls, fn is not run: the configured fallback answers instead, or
// an *OpenError is returned.
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (result T, err error) {
	trial, rejectErr := b.acquire()
	if rejectErr != nil {
		return runFallback[T](ctx, b, rejectErr)
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(trial, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	result, err = fn(ctx)
	b.record(trial, err)
	return result, err
}

func runFallback[T any](ctx context.Context, b *Breaker, rejectErr error) (T, error) {
	var zero T
	if b.fallback == nil {
		return zero, rejectErr
	}

	v, err := b.fallback(ctx, rejectErr)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %T", ErrFallbackResultType, v, zero)
	}
	return typed, nil
}

// Metrics returns a snapshot of the breaker's counters
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := Metrics{
		Name:      b.name,
		State:     b.state,
		StateName: b.state.String(),
		Failures:  b.failures,
	}
	if b.state != StateClosed {
		m.NextRetryAt = b.nextRetryAt
	}
	return m
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed and clears its counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.nextRetryAt = time.Time{}
	b.probing = false
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

// acquire decides whether a call may run. trial is true for the single call
// allowed through a half-open breaker.
func (b *Breaker) acquire() (trial bool, err error) {
	b.mu.Lock()
	from := b.state

	switch b.state {
	case StateOpen:
		if b.now().Before(b.nextRetryAt) {
			err = &OpenError{Name: b.name, NextRetryAt: b.nextRetryAt}
			b.mu.Unlock()
			return false, err
		}
		b.state = StateHalfOpen
		b.probing = true
		b.mu.Unlock()
		b.notify(from, StateHalfOpen)
		return true, nil

	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return false, &OpenError{Name: b.name}
		}
		b.probing = true
		b.mu.Unlock()
		return true, nil

	default:
		b.mu.Unlock()
		return false, nil
	}
}

// record applies the outcome of a call that acquire let through.
func (b *Breaker) record(trial bool, err error) {
	failed := err != nil && b.isFailure(err)

	b.mu.Lock()
	from := b.state

	if trial {
		b.probing = false
		switch {
		case failed:
			b.failures++
			b.trip()
		case err == nil:
			b.failures = 0
			b.state = StateClosed
			b.nextRetryAt = time.Time{}
		}
		to := b.state
		b.mu.Unlock()
		b.notify(from, to)
		return
	}

	// A call that started while closed may finish after another call tripped
	// the breaker; only closed-state outcomes move the counters.
	if b.state == StateClosed {
		switch {
		case failed:
			b.failures++
			if b.failures >= b.failureThreshold {
				b.trip()
			}
		case err == nil:
			b.failures = 0
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// trip opens the breaker; the caller holds mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.nextRetryAt = b.now().Add(b.resetTimeout)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
