// Package subscription keeps subscription billing state consistent with an
// external billing gateway.
//
// Three kinds of writers touch a subscription concurrently: owners creating
// and cancelling through LifecycleService, gateway webhooks applied by
// ReconciliationService, and the queue worker retrying reconciliation jobs.
// They never take a lock. Every write is a version-checked update through
// Tx.UpdateVersioned committed together with a StateHistoryEntry, and a stale
// version surfaces as *ConflictError.
//
// # State machine
//
//	PENDING ──▶ ACTIVE ◀──▶ GRACE ──▶ DELINQUENT
//	   └──────────┴───────────┴──────────┴──▶ CANCELLED
//
// Gateways may report a subscription as paused. Pausing is not offered, so a
// paused report cancels the subscription (see CancelFromPaused).
//
// # Webhooks
//
// WebhookHandler verifies a gateway webhook, queues a ReconcileJob and
// acknowledges at once. The job handler built by NewReconcileJobHandler calls
// ReconciliationService.ProcessNotification, which skips notifications it has
// already recorded and writes the processing record in the same transaction
// as the state change. Events are published to the configured EventEmitter
// only after commit.
//
// # Gateways
//
// PaddleGateway and StripeGateway implement Provider. Wrap them in
// GuardedGateway so calls pass through a circuit breaker:
//
//	cb := circuitbreaker.New("stripe", circuitbreaker.WithFailurePredicate(subscription.GatewayFailurePredicate))
//	gw := subscription.NewGuardedGateway(stripeGateway, cb)
package subscription
