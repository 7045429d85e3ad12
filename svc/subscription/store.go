package subscription

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence contract of the subscription core. Reads outside
// InTx see committed data only.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	FindByRemoteID(ctx context.Context, remoteID string) (*Subscription, error)
	History(ctx context.Context, subscriptionID uuid.UUID) ([]StateHistoryEntry, error)

	// InTx runs fn in one transaction. It commits when fn returns nil and
	// rolls back every write made through tx otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write surface available inside a transaction.
type Tx interface {
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	Insert(ctx context.Context, sub *Subscription) error

	// UpdateVersioned writes the business fields of sub on the condition that
	// the stored version equals expectedVersion, and stores expectedVersion+1.
	// On success sub.Version is set to the new value. A stale version yields a
	// *ConflictError; a missing row yields ErrSubscriptionNotFound.
	UpdateVersioned(ctx context.Context, sub *Subscription, expectedVersion int64) error

	AppendHistory(ctx context.Context, entry StateHistoryEntry) error

	// MarkProcessed records a notification as handled. It returns
	// ErrAlreadyProcessed when a record with the same id exists.
	MarkProcessed(ctx context.Context, rec ProcessingRecord) error
}

// IdempotencyStore answers whether a notification was already handled.
type IdempotencyStore interface {
	WasProcessed(ctx context.Context, notificationID string) (bool, error)
	MarkProcessed(ctx context.Context, rec ProcessingRecord) error
}

// processedCache is implemented by idempotency stores that keep a fast-path
// copy of committed markers.
type processedCache interface {
	Remember(ctx context.Context, notificationID string)
}

// OwnerDirectory resolves owners.
type OwnerDirectory interface {
	GetOwner(ctx context.Context, id uuid.UUID) (*Owner, error)
}

// PlanCatalog resolves plans. Inactive plans are returned with Active false.
type PlanCatalog interface {
	GetPlan(ctx context.Context, id string) (*Plan, error)
}
