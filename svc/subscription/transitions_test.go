package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingcore/svc/subscription"
)

func TestTransitions_Table(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	allowed := map[[2]subscription.State]bool{
		{subscription.StatePending, subscription.StateActive}:       true,
		{subscription.StateActive, subscription.StateGrace}:         true,
		{subscription.StateGrace, subscription.StateActive}:         true,
		{subscription.StateGrace, subscription.StateDelinquent}:     true,
		{subscription.StatePending, subscription.StateCancelled}:    true,
		{subscription.StateActive, subscription.StateCancelled}:     true,
		{subscription.StateGrace, subscription.StateCancelled}:      true,
		{subscription.StateDelinquent, subscription.StateCancelled}: true,
	}
	states := []subscription.State{
		subscription.StatePending, subscription.StateActive, subscription.StateGrace,
		subscription.StateDelinquent, subscription.StateCancelled,
	}

	for _, from := range states {
		for _, to := range states {
			got := subscription.Transitions.CanTransition(ctx, from, to, nil)
			assert.Equal(t, allowed[[2]subscription.State{from, to}], got, "%s -> %s", from, to)
		}
	}
	assert.True(t, subscription.Transitions.Terminal(subscription.StateCancelled))
}

func TestTransitionEngine_Activate(t *testing.T) {
	t.Parallel()

	t.Run("pending becomes active with history and event", func(t *testing.T) {
		t.Parallel()

		clock := newTestClock()
		store := subscription.NewMemoryStore()
		engine := subscription.NewTransitionEngine(store, subscription.WithClock(clock.Now))
		sub := seed(t, store, subscription.StatePending, func(s *subscription.Subscription) { s.RemoteID = "cs_checkout" })

		next := clock.Now().AddDate(0, 1, 0)
		detail := &subscription.RemoteDetail{
			RemoteID:        "sub_123",
			Status:          subscription.RemoteAuthorized,
			NextPaymentDate: &next,
		}

		ev, err := engine.Activate(context.Background(), sub, detail)
		require.NoError(t, err)
		require.NotNil(t, ev)

		assert.Equal(t, subscription.EventActivated, ev.Name)
		assert.Equal(t, subscription.StatePending, ev.Payload.FromState)
		assert.Equal(t, subscription.StateActive, ev.Payload.ToState)

		assert.Equal(t, subscription.StateActive, sub.State)
		assert.Equal(t, int64(2), sub.Version)
		assert.Equal(t, "sub_123", sub.RemoteID)
		require.NotNil(t, sub.NextChargeAt)
		assert.True(t, next.Equal(*sub.NextChargeAt))

		stored := mustGet(t, store, sub.ID)
		assert.Equal(t, sub.Version, stored.Version)
		assert.Equal(t, "sub_123", stored.RemoteID)

		history := mustHistory(t, store, sub.ID)
		require.Len(t, history, 1)
		assert.Equal(t, subscription.StatePending, history[0].FromState)
		assert.Equal(t, subscription.StateActive, history[0].ToState)
		assert.Equal(t, subscription.ReasonAuthorized, history[0].Reason)
		assert.Equal(t, "cs_checkout", history[0].Metadata["previous_remote_id"])
	})

	t.Run("next charge derived from recurrence", func(t *testing.T) {
		t.Parallel()

		clock := newTestClock()
		store := subscription.NewMemoryStore()
		engine := subscription.NewTransitionEngine(store, subscription.WithClock(clock.Now))
		sub := seed(t, store, subscription.StatePending)

		_, err := engine.Activate(context.Background(), sub, &subscription.RemoteDetail{
			Status:     subscription.RemoteAuthorized,
			Recurrence: subscription.Recurrence{Frequency: 1, FrequencyType: subscription.FrequencyMonths},
		})
		require.NoError(t, err)
		require.NotNil(t, sub.NextChargeAt)
		assert.Equal(t, epoch.AddDate(0, 1, 0), *sub.NextChargeAt)
	})

	t.Run("grace is cleared", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		engine := subscription.NewTransitionEngine(store)
		started := epoch
		sub := seed(t, store, subscription.StateGrace, func(s *subscription.Subscription) {
			s.GraceStartedAt = &started
			s.GraceDaysUsed = 2
		})

		ev, err := engine.Activate(context.Background(), sub, &subscription.RemoteDetail{Status: subscription.RemoteAuthorized})
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, subscription.StateActive, sub.State)
		assert.Nil(t, sub.GraceStartedAt)
		assert.Zero(t, sub.GraceDaysUsed)
	})

	t.Run("already active is a no-op", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		engine := subscription.NewTransitionEngine(store)
		sub := seed(t, store, subscription.StateActive)

		ev, err := engine.Activate(context.Background(), sub, &subscription.RemoteDetail{Status: subscription.RemoteAuthorized})
		require.NoError(t, err)
		assert.Nil(t, ev)
		assert.Equal(t, int64(1), mustGet(t, store, sub.ID).Version)
		assert.Empty(t, mustHistory(t, store, sub.ID))
	})

	t.Run("forbidden edge", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		engine := subscription.NewTransitionEngine(store)

		for _, state := range []subscription.State{subscription.StateCancelled, subscription.StateDelinquent} {
			sub := seed(t, store, state)
			_, err := engine.Activate(context.Background(), sub, &subscription.RemoteDetail{})
			require.ErrorIs(t, err, subscription.ErrInvalidState)
			assert.Equal(t, state, sub.State)
			assert.Empty(t, mustHistory(t, store, sub.ID))
		}
	})

	t.Run("stale copy conflicts", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		engine := subscription.NewTransitionEngine(store)
		sub := seed(t, store, subscription.StatePending)
		stale := sub.Clone()

		_, err := engine.Cancel(context.Background(), sub, nil, "owner left")
		require.NoError(t, err)

		_, err = engine.Activate(context.Background(), stale, &subscription.RemoteDetail{})
		require.ErrorIs(t, err, subscription.ErrOptimisticLockConflict)
		assert.Equal(t, subscription.StatePending, stale.State)
		assert.Len(t, mustHistory(t, store, sub.ID), 1)
	})
}

func TestTransitionEngine_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("records reason and actor", func(t *testing.T) {
		t.Parallel()

		clock := newTestClock()
		store := subscription.NewMemoryStore()
		engine := subscription.NewTransitionEngine(store, subscription.WithClock(clock.Now))
		sub := seed(t, store, subscription.StateDelinquent)

		clock.Advance(time.Hour)
		ev, err := engine.Cancel(context.Background(), sub, &subscription.RemoteDetail{Status: subscription.RemoteCancelled}, subscription.ReasonGatewayCancelled)
		require.NoError(t, err)
		require.NotNil(t, ev)

		assert.Equal(t, subscription.EventCancelled, ev.Name)
		assert.Equal(t, subscription.StateCancelled, sub.State)
		require.NotNil(t, sub.CancelledAt)
		assert.Equal(t, clock.Now(), *sub.CancelledAt)
		assert.Equal(t, subscription.ReasonGatewayCancelled, sub.CancelReason)
		assert.Equal(t, subscription.ActorGateway, sub.CancelledBy)

		history := mustHistory(t, store, sub.ID)
		require.Len(t, history, 1)
		assert.Equal(t, "cancelled", history[0].Metadata["remote_status"])
	})

	t.Run("already cancelled is a no-op", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		engine := subscription.NewTransitionEngine(store)
		sub := seed(t, store, subscription.StateCancelled)

		ev, err := engine.Cancel(context.Background(), sub, nil, "again")
		require.NoError(t, err)
		assert.Nil(t, ev)
		assert.Equal(t, int64(1), mustGet(t, store, sub.ID).Version)
	})

	t.Run("paused maps to cancelled", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		engine := subscription.NewTransitionEngine(store)
		sub := seed(t, store, subscription.StateActive)

		ev, err := engine.CancelFromPaused(context.Background(), sub, &subscription.RemoteDetail{Status: subscription.RemotePaused})
		require.NoError(t, err)
		require.NotNil(t, ev)

		stored := mustGet(t, store, sub.ID)
		assert.Equal(t, subscription.StateCancelled, stored.State)
		assert.Equal(t, subscription.ReasonPausedNotSupported, stored.CancelReason)
		assert.Equal(t, subscription.ReasonPausedNotSupported, ev.Payload.Reason)
	})
}
