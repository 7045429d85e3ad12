// Package dunning emails subscription owners when billing goes wrong.
//
// A Notifier listens on the event bus for committed subscription events and
// sends one message per event:
//
//	subscription.grace_started         payment failed, access continues until the deadline
//	subscription.grace_period_updated  reminder with the days left
//	subscription.delinquent            grace expired, access limited
//	subscription.cancelled             confirmation
//
// Delivery failures are logged and dropped. The subscription state is already
// committed when an event arrives, so nothing here can roll it back.
//
//	n := dunning.NewNotifier(owners, sender, dunning.WithLogger(log))
//	defer n.Subscribe(bus)()
package dunning
