package subscription_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingcore/svc/subscription"
)

func TestMemoryStore_UpdateVersioned(t *testing.T) {
	t.Parallel()

	t.Run("matching version bumps by one", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		sub := seed(t, store, subscription.StatePending)

		next := sub.Clone()
		next.State = subscription.StateActive
		err := store.InTx(context.Background(), func(ctx context.Context, tx subscription.Tx) error {
			return tx.UpdateVersioned(ctx, next, sub.Version)
		})
		require.NoError(t, err)

		assert.Equal(t, sub.Version+1, next.Version)
		stored := mustGet(t, store, sub.ID)
		assert.Equal(t, subscription.StateActive, stored.State)
		assert.Equal(t, sub.Version+1, stored.Version)
	})

	t.Run("stale version is a conflict and touches nothing", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		sub := seed(t, store, subscription.StatePending, func(s *subscription.Subscription) { s.Version = 4 })

		for _, stale := range []int64{1, 3, 5} {
			next := sub.Clone()
			next.State = subscription.StateActive
			err := store.InTx(context.Background(), func(ctx context.Context, tx subscription.Tx) error {
				return tx.UpdateVersioned(ctx, next, stale)
			})

			require.ErrorIs(t, err, subscription.ErrOptimisticLockConflict)
			assert.NotErrorIs(t, err, subscription.ErrSubscriptionNotFound)

			var conflict *subscription.ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, stale, conflict.ExpectedVersion)
			assert.Equal(t, int64(4), conflict.ActualVersion)
		}

		stored := mustGet(t, store, sub.ID)
		assert.Equal(t, subscription.StatePending, stored.State)
		assert.Equal(t, int64(4), stored.Version)
	})

	t.Run("missing row is not found", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		ghost := &subscription.Subscription{ID: uuid.New(), Version: 1}
		err := store.InTx(context.Background(), func(ctx context.Context, tx subscription.Tx) error {
			return tx.UpdateVersioned(ctx, ghost, 1)
		})
		require.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
		assert.NotErrorIs(t, err, subscription.ErrOptimisticLockConflict)
	})
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	existing := seed(t, store, subscription.StateActive)
	errBoom := errors.New("boom")

	fresh := &subscription.Subscription{ID: uuid.New(), State: subscription.StatePending, Version: 1}
	err := store.InTx(context.Background(), func(ctx context.Context, tx subscription.Tx) error {
		require.NoError(t, tx.Insert(ctx, fresh))

		next := existing.Clone()
		next.State = subscription.StateGrace
		require.NoError(t, tx.UpdateVersioned(ctx, next, existing.Version))
		require.NoError(t, tx.AppendHistory(ctx, subscription.StateHistoryEntry{SubscriptionID: existing.ID}))
		require.NoError(t, tx.MarkProcessed(ctx, subscription.ProcessingRecord{NotificationID: "evt_1"}))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = store.Get(context.Background(), fresh.ID)
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	assert.Equal(t, existing.Version, mustGet(t, store, existing.ID).Version)
	assert.Empty(t, mustHistory(t, store, existing.ID))

	done, err := store.WasProcessed(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestMemoryStore_Processed(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.MarkProcessed(ctx, subscription.ProcessingRecord{NotificationID: "evt_1"}))
	assert.ErrorIs(t, store.MarkProcessed(ctx, subscription.ProcessingRecord{NotificationID: "evt_1"}), subscription.ErrAlreadyProcessed)

	done, err := store.WasProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Len(t, store.ProcessingRecords(), 1)
}

func TestMemoryStore_FindByRemoteID(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	sub := seed(t, store, subscription.StateActive, func(s *subscription.Subscription) { s.RemoteID = "sub_abc" })

	found, err := store.FindByRemoteID(context.Background(), "sub_abc")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, found.ID)

	_, err = store.FindByRemoteID(context.Background(), "sub_missing")
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)

	_, err = store.FindByRemoteID(context.Background(), "")
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
}
