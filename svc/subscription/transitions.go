package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingcore/pkg/logger"
	"github.com/dmitrymomot/billingcore/pkg/statemachine"
)

// Transitions is the table of allowed state moves. Paused is absent on purpose:
// it is never a stored state.
var Transitions = statemachine.MustNew(
	statemachine.WithTransition(StatePending, StateActive),
	statemachine.WithTransition(StateActive, StateGrace),
	statemachine.WithTransition(StateGrace, StateActive),
	statemachine.WithTransition(StateGrace, StateDelinquent),
	statemachine.WithFanIn(StateCancelled, StatePending, StateActive, StateGrace, StateDelinquent),
)

// TransitionEngine applies gateway-driven state changes. Each change is one
// version-checked update plus one history row, committed together. A request
// for the state the subscription is already in does nothing.
type TransitionEngine struct {
	store  Store
	table  *statemachine.Table[State]
	now    func() time.Time
	logger *slog.Logger
}

// NewTransitionEngine creates an engine over store.
func NewTransitionEngine(store Store, opts ...Option) *TransitionEngine {
	o := newOptions(opts)
	return &TransitionEngine{
		store:  store,
		table:  Transitions,
		now:    o.now,
		logger: o.logger.With(logger.Component("subscription.transitions")),
	}
}

// Activate moves sub to ACTIVE. On success sub reflects the stored row and the
// returned event must be published by the caller after this call returns.
// The event is nil when sub was already active.
func (e *TransitionEngine) Activate(ctx context.Context, sub *Subscription, detail *RemoteDetail) (*PendingEvent, error) {
	if sub.State == StateActive {
		return nil, nil
	}
	return e.run(ctx, sub, func(ctx context.Context, tx Tx) (*PendingEvent, *Subscription, error) {
		return e.activate(ctx, tx, sub, detail)
	})
}

// Cancel moves sub to CANCELLED. The event is nil when sub was already cancelled.
func (e *TransitionEngine) Cancel(ctx context.Context, sub *Subscription, detail *RemoteDetail, reason string) (*PendingEvent, error) {
	if sub.State == StateCancelled {
		return nil, nil
	}
	return e.run(ctx, sub, func(ctx context.Context, tx Tx) (*PendingEvent, *Subscription, error) {
		return e.cancel(ctx, tx, sub, detail, reason, ActorGateway)
	})
}

// CancelFromPaused cancels a subscription the gateway reported as paused.
func (e *TransitionEngine) CancelFromPaused(ctx context.Context, sub *Subscription, detail *RemoteDetail) (*PendingEvent, error) {
	return e.Cancel(ctx, sub, detail, ReasonPausedNotSupported)
}

func (e *TransitionEngine) run(
	ctx context.Context,
	sub *Subscription,
	fn func(ctx context.Context, tx Tx) (*PendingEvent, *Subscription, error),
) (*PendingEvent, error) {
	var (
		ev   *PendingEvent
		next *Subscription
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		ev, next, err = fn(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	*sub = *next
	return ev, nil
}

func (e *TransitionEngine) activate(ctx context.Context, tx Tx, sub *Subscription, detail *RemoteDetail) (*PendingEvent, *Subscription, error) {
	if sub.State == StateActive {
		return nil, sub, nil
	}
	if err := e.validate(ctx, sub.State, StateActive); err != nil {
		return nil, nil, err
	}

	now := e.now()
	next := sub.Clone()
	next.State = StateActive
	next.GraceDaysUsed = 0
	next.GraceStartedAt = nil
	next.UpdatedAt = now

	meta := map[string]any{}
	if detail != nil {
		if detail.RemoteID != "" && detail.RemoteID != next.RemoteID {
			if next.RemoteID != "" {
				meta["previous_remote_id"] = next.RemoteID
			}
			next.RemoteID = detail.RemoteID
		}
		if at := nextChargeAt(detail, now); at != nil {
			next.NextChargeAt = at
		}
	}
	if next.RemoteID != "" {
		meta["remote_id"] = next.RemoteID
	}

	if err := e.commit(ctx, tx, sub, next, ReasonAuthorized, ActorGateway, meta, now); err != nil {
		return nil, nil, err
	}
	return newPendingEvent(EventActivated, sub.State, next, ReasonAuthorized, ActorGateway, now), next, nil
}

func (e *TransitionEngine) cancel(ctx context.Context, tx Tx, sub *Subscription, detail *RemoteDetail, reason, actor string) (*PendingEvent, *Subscription, error) {
	if sub.State == StateCancelled {
		return nil, sub, nil
	}
	if err := e.validate(ctx, sub.State, StateCancelled); err != nil {
		return nil, nil, err
	}

	now := e.now()
	next := sub.Clone()
	next.State = StateCancelled
	next.CancelledAt = &now
	next.CancelReason = reason
	next.CancelledBy = actor
	next.NextChargeAt = nil
	next.UpdatedAt = now

	meta := map[string]any{}
	if detail != nil && detail.Status != "" {
		meta["remote_status"] = string(detail.Status)
	}
	if next.RemoteID != "" {
		meta["remote_id"] = next.RemoteID
	}

	if err := e.commit(ctx, tx, sub, next, reason, actor, meta, now); err != nil {
		return nil, nil, err
	}
	return newPendingEvent(EventCancelled, sub.State, next, reason, actor, now), next, nil
}

// commit writes next under sub's version and appends the matching history row.
func (e *TransitionEngine) commit(ctx context.Context, tx Tx, sub, next *Subscription, reason, actor string, meta map[string]any, at time.Time) error {
	if err := tx.UpdateVersioned(ctx, next, sub.Version); err != nil {
		return err
	}
	entry := StateHistoryEntry{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		FromState:      sub.State,
		ToState:        next.State,
		Reason:         reason,
		Actor:          actor,
		Metadata:       meta,
		OccurredAt:     at,
	}
	if err := tx.AppendHistory(ctx, entry); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "subscription state changed",
		logger.SubscriptionID(sub.ID.String()),
		logger.Transition(string(sub.State), string(next.State)),
		slog.String("reason", reason),
		slog.Int64("version", next.Version))
	return nil
}

func (e *TransitionEngine) validate(ctx context.Context, from, to State) error {
	if err := e.table.Validate(ctx, from, to, nil); err != nil {
		return errors.Join(ErrInvalidState, err)
	}
	return nil
}

func nextChargeAt(detail *RemoteDetail, now time.Time) *time.Time {
	if detail.NextPaymentDate != nil {
		t := *detail.NextPaymentDate
		return &t
	}
	if t := detail.Recurrence.Next(now); !t.IsZero() {
		return &t
	}
	return nil
}
