package subscription_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingcore/svc/subscription"
)

type reconcileFixture struct {
	store   *subscription.MemoryStore
	emitter *recordingEmitter
	clock   *testClock
	svc     *subscription.ReconciliationService
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()

	f := &reconcileFixture{
		store:   subscription.NewMemoryStore(),
		emitter: &recordingEmitter{},
		clock:   newTestClock(),
	}
	f.svc = subscription.NewReconciliationService(f.store, f.store,
		subscription.WithClock(f.clock.Now),
		subscription.WithEmitter(f.emitter),
	)
	return f
}

func subscriptionNotification(id, remoteID string) subscription.Notification {
	return subscription.Notification{ID: id, Type: subscription.NotificationSubscription, RemoteID: remoteID}
}

func TestReconciliationService_Authorized(t *testing.T) {
	t.Parallel()

	f := newReconcileFixture(t)
	ctx := context.Background()
	sub := seed(t, f.store, subscription.StatePending)
	n := subscriptionNotification("evt_1", sub.RemoteID)
	detail := &subscription.RemoteDetail{RemoteID: sub.RemoteID, Status: subscription.RemoteAuthorized}

	res, err := f.svc.ProcessNotification(ctx, n, detail)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, subscription.ActionActivated, res.Action)
	require.NotNil(t, res.SubscriptionID)
	assert.Equal(t, sub.ID, *res.SubscriptionID)

	stored := mustGet(t, f.store, sub.ID)
	assert.Equal(t, subscription.StateActive, stored.State)
	history := mustHistory(t, f.store, sub.ID)
	require.Len(t, history, 1)
	assert.Equal(t, subscription.StatePending, history[0].FromState)
	assert.Equal(t, subscription.StateActive, history[0].ToState)
	assert.Equal(t, []string{subscription.EventActivated}, f.emitter.Names())

	records := f.store.ProcessingRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "evt_1", records[0].NotificationID)
	assert.Equal(t, subscription.RemoteAuthorized, records[0].RemoteStatus)

	t.Run("replay is skipped without writes", func(t *testing.T) {
		res, err := f.svc.ProcessNotification(ctx, n, detail)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.True(t, res.Duplicate)
		assert.Equal(t, subscription.ActionSkipped, res.Action)

		assert.Equal(t, stored.Version, mustGet(t, f.store, sub.ID).Version)
		assert.Len(t, mustHistory(t, f.store, sub.ID), 1)
		assert.Len(t, f.emitter.Names(), 1)
	})

	t.Run("same status under a new id is a no-op", func(t *testing.T) {
		res, err := f.svc.ProcessNotification(ctx, subscriptionNotification("evt_2", sub.RemoteID), detail)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.False(t, res.Duplicate)
		assert.Equal(t, subscription.ActionSkipped, res.Action)

		assert.Equal(t, stored.Version, mustGet(t, f.store, sub.ID).Version)
		assert.Len(t, mustHistory(t, f.store, sub.ID), 1)
		assert.Len(t, f.emitter.Names(), 1)
	})
}

func TestReconciliationService_Paused(t *testing.T) {
	t.Parallel()

	f := newReconcileFixture(t)
	sub := seed(t, f.store, subscription.StateActive)

	res, err := f.svc.ProcessNotification(context.Background(),
		subscriptionNotification("evt_pause", sub.RemoteID),
		&subscription.RemoteDetail{RemoteID: sub.RemoteID, Status: subscription.RemotePaused})
	require.NoError(t, err)
	assert.Equal(t, subscription.ActionCancelled, res.Action)

	stored := mustGet(t, f.store, sub.ID)
	assert.Equal(t, subscription.StateCancelled, stored.State)
	assert.Equal(t, subscription.ReasonPausedNotSupported, stored.CancelReason)
	assert.Equal(t, subscription.ActorGateway, stored.CancelledBy)
}

func TestReconciliationService_Dispatch(t *testing.T) {
	t.Parallel()

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()

		f := newReconcileFixture(t)
		sub := seed(t, f.store, subscription.StateGrace)

		res, err := f.svc.ProcessNotification(context.Background(),
			subscriptionNotification("evt_c", sub.RemoteID),
			&subscription.RemoteDetail{Status: subscription.RemoteCancelled})
		require.NoError(t, err)
		assert.Equal(t, subscription.ActionCancelled, res.Action)
		assert.Equal(t, subscription.ReasonGatewayCancelled, mustGet(t, f.store, sub.ID).CancelReason)
	})

	t.Run("pending is a no-op without marker", func(t *testing.T) {
		t.Parallel()

		f := newReconcileFixture(t)
		sub := seed(t, f.store, subscription.StatePending)

		res, err := f.svc.ProcessNotification(context.Background(),
			subscriptionNotification("evt_p", sub.RemoteID),
			&subscription.RemoteDetail{Status: subscription.RemotePending})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, subscription.ActionSkipped, res.Action)
		assert.Equal(t, int64(1), mustGet(t, f.store, sub.ID).Version)
		assert.Empty(t, f.store.ProcessingRecords())
	})

	t.Run("unknown status is a hard failure", func(t *testing.T) {
		t.Parallel()

		f := newReconcileFixture(t)
		sub := seed(t, f.store, subscription.StateActive)

		res, err := f.svc.ProcessNotification(context.Background(),
			subscriptionNotification("evt_u", sub.RemoteID),
			&subscription.RemoteDetail{Status: "on_hold"})
		require.ErrorIs(t, err, subscription.ErrUnknownRemoteStatus)
		assert.False(t, res.Success)
		assert.Equal(t, subscription.ActionError, res.Action)
		assert.Equal(t, int64(1), mustGet(t, f.store, sub.ID).Version)
		assert.Empty(t, f.store.ProcessingRecords())
		assert.Empty(t, f.emitter.Names())
	})

	t.Run("forbidden transition is reported, not retried", func(t *testing.T) {
		t.Parallel()

		f := newReconcileFixture(t)
		sub := seed(t, f.store, subscription.StateCancelled)

		res, err := f.svc.ProcessNotification(context.Background(),
			subscriptionNotification("evt_late", sub.RemoteID),
			&subscription.RemoteDetail{Status: subscription.RemoteAuthorized})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, subscription.ActionError, res.Action)
		assert.Equal(t, subscription.StateCancelled, mustGet(t, f.store, sub.ID).State)
	})

	t.Run("payment failure routes to grace", func(t *testing.T) {
		t.Parallel()

		f := newReconcileFixture(t)
		sub := seed(t, f.store, subscription.StateActive)

		res, err := f.svc.ProcessNotification(context.Background(), subscription.Notification{
			ID:            "evt_fail_1",
			Type:          subscription.NotificationPaymentFailed,
			RemoteID:      sub.RemoteID,
			FailureReason: "card_declined",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, subscription.ActionGrace, res.Action)
		assert.Equal(t, subscription.StateGrace, mustGet(t, f.store, sub.ID).State)

		f.clock.Advance(4 * day)
		res, err = f.svc.ProcessNotification(context.Background(), subscription.Notification{
			ID:       "evt_fail_2",
			Type:     subscription.NotificationPaymentFailed,
			RemoteID: sub.RemoteID,
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, subscription.ActionDelinquent, res.Action)
		assert.Equal(t, subscription.StateDelinquent, mustGet(t, f.store, sub.ID).State)
		assert.Equal(t, []string{subscription.EventGraceStarted, subscription.EventDelinquent}, f.emitter.Names())
	})

	t.Run("subscription notification needs remote detail", func(t *testing.T) {
		t.Parallel()

		f := newReconcileFixture(t)
		sub := seed(t, f.store, subscription.StatePending)

		_, err := f.svc.ProcessNotification(context.Background(), subscriptionNotification("evt_x", sub.RemoteID), nil)
		assert.ErrorIs(t, err, subscription.ErrMalformedNotification)
	})
}

func TestReconciliationService_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("falls back to external reference and adopts remote id", func(t *testing.T) {
		t.Parallel()

		f := newReconcileFixture(t)
		sub := seed(t, f.store, subscription.StatePending, func(s *subscription.Subscription) { s.RemoteID = "txn_checkout" })

		res, err := f.svc.ProcessNotification(context.Background(), subscription.Notification{
			ID:                "evt_created",
			Type:              subscription.NotificationSubscription,
			RemoteID:          "sub_new",
			ExternalReference: sub.ID.String(),
		}, &subscription.RemoteDetail{RemoteID: "sub_new", Status: subscription.RemoteAuthorized})
		require.NoError(t, err)
		assert.Equal(t, subscription.ActionActivated, res.Action)
		assert.Equal(t, "sub_new", mustGet(t, f.store, sub.ID).RemoteID)
	})

	t.Run("unknown subscription is an error result", func(t *testing.T) {
		t.Parallel()

		f := newReconcileFixture(t)
		res, err := f.svc.ProcessNotification(context.Background(),
			subscriptionNotification("evt_orphan", "sub_nobody"),
			&subscription.RemoteDetail{Status: subscription.RemoteAuthorized, ExternalReference: "not-a-uuid"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, subscription.ActionError, res.Action)
		assert.Nil(t, res.SubscriptionID)
	})
}

type failingIdempotency struct {
	subscription.IdempotencyStore
}

func (failingIdempotency) WasProcessed(context.Context, string) (bool, error) {
	return false, errors.New("db down")
}

func TestReconciliationService_IdempotencyStoreFailure(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	svc := subscription.NewReconciliationService(store, failingIdempotency{store})
	sub := seed(t, store, subscription.StatePending)

	_, err := svc.ProcessNotification(context.Background(),
		subscriptionNotification("evt_1", sub.RemoteID),
		&subscription.RemoteDetail{Status: subscription.RemoteAuthorized})
	require.Error(t, err)
	assert.Equal(t, subscription.StatePending, mustGet(t, store, sub.ID).State)
}

func TestReconciliationService_ConcurrentDuplicates(t *testing.T) {
	t.Parallel()

	f := newReconcileFixture(t)
	ctx := context.Background()
	sub := seed(t, f.store, subscription.StatePending)
	n := subscriptionNotification("evt_1", sub.RemoteID)
	detail := &subscription.RemoteDetail{RemoteID: sub.RemoteID, Status: subscription.RemoteAuthorized}

	const workers = 8
	type outcome struct {
		res subscription.Result
		err error
	}
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		outcomes = make([]outcome, workers)
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.svc.ProcessNotification(ctx, n, detail)
			outcomes[i] = outcome{res: res, err: err}
		}()
	}
	close(start)
	wg.Wait()

	activated := 0
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			// Lost the version race before the marker existed; the queue retries.
			assert.ErrorIs(t, o.err, subscription.ErrOptimisticLockConflict)
			res, err := f.svc.ProcessNotification(ctx, n, detail)
			require.NoError(t, err)
			assert.Equal(t, subscription.ActionSkipped, res.Action)
		case o.res.Action == subscription.ActionActivated:
			activated++
		default:
			assert.Equal(t, subscription.ActionSkipped, o.res.Action)
			assert.True(t, o.res.Success)
		}
	}

	assert.Equal(t, 1, activated)
	stored := mustGet(t, f.store, sub.ID)
	assert.Equal(t, subscription.StateActive, stored.State)
	assert.Equal(t, int64(2), stored.Version)
	assert.Len(t, mustHistory(t, f.store, sub.ID), 1)
	assert.Equal(t, []string{subscription.EventActivated}, f.emitter.Names())
	assert.Len(t, f.store.ProcessingRecords(), 1)
}

func TestReconciliationService_MarkerCollisionRollsBack(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	emitter := &recordingEmitter{}
	svc := subscription.NewReconciliationService(store, forgetfulIdempotency{},
		subscription.WithClock(newTestClock().Now),
		subscription.WithEmitter(emitter),
	)
	ctx := context.Background()
	sub := seed(t, store, subscription.StatePending)
	require.NoError(t, store.MarkProcessed(ctx, subscription.ProcessingRecord{NotificationID: "evt_1", ProcessedAt: epoch}))

	res, err := svc.ProcessNotification(ctx, subscriptionNotification("evt_1", sub.RemoteID),
		&subscription.RemoteDetail{RemoteID: sub.RemoteID, Status: subscription.RemoteAuthorized})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Duplicate)
	assert.Equal(t, subscription.ActionSkipped, res.Action)

	stored := mustGet(t, store, sub.ID)
	assert.Equal(t, subscription.StatePending, stored.State)
	assert.Equal(t, sub.Version, stored.Version)
	assert.Empty(t, mustHistory(t, store, sub.ID))
	assert.Empty(t, emitter.Names())
}

func TestReconciliationService_StaleVersion(t *testing.T) {
	t.Parallel()

	mem := subscription.NewMemoryStore()
	store := &interleavedStore{MemoryStore: mem, t: t}
	emitter := &recordingEmitter{}
	svc := subscription.NewReconciliationService(store, mem,
		subscription.WithClock(newTestClock().Now),
		subscription.WithEmitter(emitter),
	)
	ctx := context.Background()
	sub := seed(t, mem, subscription.StatePending)
	n := subscriptionNotification("evt_1", sub.RemoteID)
	detail := &subscription.RemoteDetail{RemoteID: sub.RemoteID, Status: subscription.RemoteAuthorized}

	res, err := svc.ProcessNotification(ctx, n, detail)
	var conflict *subscription.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, sub.ID, conflict.SubscriptionID)
	assert.Equal(t, int64(1), conflict.ExpectedVersion)
	assert.Equal(t, subscription.ActionError, res.Action)

	assert.Equal(t, subscription.StatePending, mustGet(t, mem, sub.ID).State)
	assert.Empty(t, mustHistory(t, mem, sub.ID))
	assert.Empty(t, mem.ProcessingRecords())
	assert.Empty(t, emitter.Names())

	t.Run("retry applies on the fresh version", func(t *testing.T) {
		res, err := svc.ProcessNotification(ctx, n, detail)
		require.NoError(t, err)
		assert.Equal(t, subscription.ActionActivated, res.Action)
		assert.Equal(t, int64(3), mustGet(t, mem, sub.ID).Version)
		assert.Equal(t, []string{subscription.EventActivated}, emitter.Names())
	})
}
