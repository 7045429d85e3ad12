// Package eventbus is an in-process publish/subscribe bus for domain events.
//
// Publishers call Emit after their transaction has committed; the call never
// blocks and never fails. Each subscription owns a buffered queue and a
// goroutine that runs its handler, so a slow subscriber delays only itself.
// When a queue is full the event is dropped for that subscriber, logged, and
// counted in Dropped.
//
//	bus := eventbus.New(eventbus.WithLogger(log))
//	defer bus.Close()
//
//	unsubscribe := bus.Subscribe("subscription.activated", func(ctx context.Context, e eventbus.Event) {
//	    // grant access
//	})
//	defer unsubscribe()
//
//	bus.Emit(ctx, "subscription.activated", payload)
//
// Subscribing with Wildcard receives every event.
package eventbus
