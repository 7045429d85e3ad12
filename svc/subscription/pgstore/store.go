// Package pgstore persists subscriptions, their state history and webhook
// processing records in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingcore/pkg/pg"
	"github.com/dmitrymomot/billingcore/svc/subscription"
)

// Store implements subscription.Store and subscription.IdempotencyStore on
// the subscriptions, subscription_state_history and
// webhook_processing_records tables.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ subscription.Store            = (*Store)(nil)
	_ subscription.IdempotencyStore = (*Store)(nil)
)

const subscriptionColumns = `id, owner_id, plan_id, state, COALESCE(remote_id, ''), final_price, currency,
	discount_percent, version, grace_days_used, grace_started_at, next_charge_at, cancelled_at,
	cancel_reason, cancelled_by, created_at, updated_at`

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return getSubscription(ctx, s.pool, id, false)
}

func (s *Store) FindByRemoteID(ctx context.Context, remoteID string) (*subscription.Subscription, error) {
	if remoteID == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE remote_id = $1`, remoteID)
	sub, err := scanSubscription(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to find subscription by remote id: %w", err)
	}
	return sub, nil
}

func (s *Store) History(ctx context.Context, subscriptionID uuid.UUID) ([]subscription.StateHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, from_state, to_state, reason, actor, metadata, occurred_at
		FROM subscription_state_history
		WHERE subscription_id = $1
		ORDER BY occurred_at, seq`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query state history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (subscription.StateHistoryEntry, error) {
		var (
			e    subscription.StateHistoryEntry
			from *string
		)
		err := row.Scan(&e.ID, &e.SubscriptionID, &from, &e.ToState, &e.Reason, &e.Actor, &e.Metadata, &e.OccurredAt)
		if from != nil {
			e.FromState = subscription.State(*from)
		}
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan state history: %w", err)
	}
	return entries, nil
}

// InTx runs fn in a read-committed transaction. Row locks taken by tx.Get
// serialise writers on the same subscription; the version check still guards
// rows read before the transaction began.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx subscription.Tx) error) error {
	return pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &storeTx{tx: tx})
	})
}

func (s *Store) WasProcessed(ctx context.Context, notificationID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_processing_records WHERE notification_id = $1)`,
		notificationID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processing record: %w", err)
	}
	return exists, nil
}

func (s *Store) MarkProcessed(ctx context.Context, rec subscription.ProcessingRecord) error {
	return markProcessed(ctx, s.pool, rec)
}

type storeTx struct {
	tx pgx.Tx
}

func (t *storeTx) Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return getSubscription(ctx, t.tx, id, true)
}

func (t *storeTx) Insert(ctx context.Context, sub *subscription.Subscription) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO subscriptions (id, owner_id, plan_id, state, remote_id, final_price, currency,
			discount_percent, version, grace_days_used, grace_started_at, next_charge_at, cancelled_at,
			cancel_reason, cancelled_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		sub.ID, sub.OwnerID, sub.PlanID, sub.State, sub.RemoteID, sub.FinalPrice, sub.Currency,
		sub.DiscountPercent, sub.Version, sub.GraceDaysUsed, sub.GraceStartedAt, sub.NextChargeAt, sub.CancelledAt,
		sub.CancelReason, sub.CancelledBy, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsConstraintViolation(err) {
			return errors.Join(subscription.ErrInvalidInput, err)
		}
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (t *storeTx) UpdateVersioned(ctx context.Context, sub *subscription.Subscription, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE subscriptions SET
			state = $3, remote_id = NULLIF($4, ''), final_price = $5, currency = $6, discount_percent = $7,
			version = version + 1, grace_days_used = $8, grace_started_at = $9, next_charge_at = $10,
			cancelled_at = $11, cancel_reason = $12, cancelled_by = $13, updated_at = $14
		WHERE id = $1 AND version = $2`,
		sub.ID, expectedVersion, sub.State, sub.RemoteID, sub.FinalPrice, sub.Currency, sub.DiscountPercent,
		sub.GraceDaysUsed, sub.GraceStartedAt, sub.NextChargeAt,
		sub.CancelledAt, sub.CancelReason, sub.CancelledBy, sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsConstraintViolation(err) {
			return errors.Join(subscription.ErrInvalidInput, err)
		}
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var actual int64
		err := t.tx.QueryRow(ctx, `SELECT version FROM subscriptions WHERE id = $1`, sub.ID).Scan(&actual)
		if pg.IsNotFoundError(err) {
			return subscription.ErrSubscriptionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read subscription version: %w", err)
		}
		return &subscription.ConflictError{
			SubscriptionID:  sub.ID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   actual,
		}
	}

	sub.Version = expectedVersion + 1
	return nil
}

func (t *storeTx) AppendHistory(ctx context.Context, entry subscription.StateHistoryEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	var from *string
	if entry.FromState != "" {
		s := string(entry.FromState)
		from = &s
	}
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO subscription_state_history (id, subscription_id, from_state, to_state, reason, actor, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.SubscriptionID, from, entry.ToState, entry.Reason, entry.Actor, metadata, entry.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append state history: %w", err)
	}
	return nil
}

func (t *storeTx) MarkProcessed(ctx context.Context, rec subscription.ProcessingRecord) error {
	return markProcessed(ctx, t.tx, rec)
}

func getSubscription(ctx context.Context, db pg.DBTX, id uuid.UUID, forUpdate bool) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	sub, err := scanSubscription(db.QueryRow(ctx, query, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var s subscription.Subscription
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.PlanID, &s.State, &s.RemoteID, &s.FinalPrice, &s.Currency,
		&s.DiscountPercent, &s.Version, &s.GraceDaysUsed, &s.GraceStartedAt, &s.NextChargeAt, &s.CancelledAt,
		&s.CancelReason, &s.CancelledBy, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// markProcessed inserts the marker; a conflicting insert means another
// worker committed the same notification first.
func markProcessed(ctx context.Context, db pg.DBTX, rec subscription.ProcessingRecord) error {
	tag, err := db.Exec(ctx, `
		INSERT INTO webhook_processing_records (notification_id, webhook_type, remote_status, external_reference, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (notification_id) DO NOTHING`,
		rec.NotificationID, rec.WebhookType, rec.RemoteStatus, rec.ExternalReference, rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record processed notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrAlreadyProcessed
	}
	return nil
}
