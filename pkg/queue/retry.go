package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides how long a failed task waits before its next attempt.
// Delays grow exponentially from InitialDelay: with the defaults the waits
// after attempts 1, 2 and 3 are 1s, 2s and 4s.
type RetryPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter is the randomization factor in [0, 1). Zero gives exact delays.
	Jitter float64
}

// DefaultRetryPolicy returns the 1s/2s/4s exponential policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     time.Minute,
	}
}

// Delay returns the wait after the given 1-based attempt failed.
func (p RetryPolicy) Delay(attempt int8) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	b := p.backoff()
	var d time.Duration
	for range attempt {
		d = b.NextBackOff()
	}
	if d == backoff.Stop {
		return b.MaxInterval
	}
	return d
}

func (p RetryPolicy) backoff() *backoff.ExponentialBackOff {
	def := DefaultRetryPolicy()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = def.InitialDelay
	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	b.Multiplier = def.Multiplier
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.MaxInterval = def.MaxDelay
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}
