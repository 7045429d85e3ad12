// Package circuitbreaker protects calls to an unreliable dependency.
//
// A Breaker starts closed and counts consecutive failures. Once the count
// reaches the failure threshold (default 5) it opens: calls are rejected
// without running, either through a configured fallback or with an
// *OpenError matching ErrCircuitOpen. After the reset timeout (default 60s)
// the next call is let through as the single half-open trial. A successful
// trial closes the breaker and zeroes the count; a failed trial reopens it
// for another reset timeout.
//
// Counters are process-local and belong to one Breaker. Use a Registry to
// keep one breaker per dependency name and to expose their metrics.
//
// # Usage
//
//	cb := circuitbreaker.New("billing-gateway",
//		circuitbreaker.WithFailureThreshold(5),
//		circuitbreaker.WithResetTimeout(time.Minute),
//	)
//
//	sub, err := circuitbreaker.Do(ctx, cb, func(ctx context.Context) (*Subscription, error) {
//		return client.Get(ctx, id)
//	})
//	if circuitbreaker.IsOpen(err) {
//		// fail fast, no network call was made
//	}
package circuitbreaker
