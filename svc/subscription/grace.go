package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingcore/pkg/logger"
)

// GraceEngine implements the dunning policy: a failed charge puts an active
// subscription into GRACE, and a failure observed GracePeriodDays or more
// after grace began makes it DELINQUENT.
type GraceEngine struct {
	store       Store
	transitions *TransitionEngine
	now         func() time.Time
	logger      *slog.Logger
}

// NewGraceEngine creates a grace engine over store.
func NewGraceEngine(store Store, opts ...Option) *GraceEngine {
	o := newOptions(opts)
	return &GraceEngine{
		store:       store,
		transitions: NewTransitionEngine(store, opts...),
		now:         o.now,
		logger:      o.logger.With(logger.Component("subscription.grace")),
	}
}

// HandlePaymentFailed applies a charge failure to the subscription. It returns
// the event to publish after the call, or nil when nothing changed.
func (g *GraceEngine) HandlePaymentFailed(ctx context.Context, subscriptionID uuid.UUID, failureReason string) (*PendingEvent, error) {
	var ev *PendingEvent
	err := g.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sub, err := tx.Get(ctx, subscriptionID)
		if err != nil {
			return err
		}
		ev, _, err = g.paymentFailed(ctx, tx, sub, failureReason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (g *GraceEngine) paymentFailed(ctx context.Context, tx Tx, sub *Subscription, failureReason string) (*PendingEvent, *Subscription, error) {
	switch sub.State {
	case StateCancelled, StateDelinquent:
		return nil, sub, nil
	case StatePending:
		return nil, nil, errors.Join(ErrInvalidState,
			fmt.Errorf("payment failure reported for subscription %s that was never activated", sub.ID))
	}

	now := g.now()
	days := DaysInGrace(sub, now)
	meta := map[string]any{"days_in_grace": days}
	if failureReason != "" {
		meta["failure_reason"] = failureReason
	}

	next := sub.Clone()
	next.UpdatedAt = now
	next.GraceDaysUsed = days

	if days >= GracePeriodDays {
		if err := g.transitions.validate(ctx, sub.State, StateDelinquent); err != nil {
			return nil, nil, err
		}
		next.State = StateDelinquent
		next.NextChargeAt = nil
		if err := g.transitions.commit(ctx, tx, sub, next, ReasonGracePeriodExpired, ActorSystem, meta, now); err != nil {
			return nil, nil, err
		}
		return graceEvent(EventDelinquent, sub.State, next, ReasonGracePeriodExpired, now), next, nil
	}

	if sub.State == StateGrace {
		if sub.GraceDaysUsed == days {
			return nil, sub, nil
		}
		if err := tx.UpdateVersioned(ctx, next, sub.Version); err != nil {
			return nil, nil, err
		}
		g.logger.DebugContext(ctx, "grace counter refreshed",
			logger.SubscriptionID(sub.ID.String()),
			slog.Int("days_in_grace", days))
		return graceEvent(EventGracePeriodUpdated, sub.State, next, failureReason, now), next, nil
	}

	if err := g.transitions.validate(ctx, sub.State, StateGrace); err != nil {
		return nil, nil, err
	}
	next.State = StateGrace
	if next.GraceStartedAt == nil {
		next.GraceStartedAt = &now
	}
	reason := "payment failed"
	if failureReason != "" {
		reason += ": " + failureReason
	}
	if err := g.transitions.commit(ctx, tx, sub, next, reason, ActorGateway, meta, now); err != nil {
		return nil, nil, err
	}
	return graceEvent(EventGraceStarted, sub.State, next, reason, now), next, nil
}

func graceEvent(name string, from State, sub *Subscription, reason string, at time.Time) *PendingEvent {
	actor := ActorGateway
	if name == EventDelinquent {
		actor = ActorSystem
	}
	ev := newPendingEvent(name, from, sub, reason, actor, at)
	ev.Payload.DaysInGrace = sub.GraceDaysUsed
	ev.Payload.GraceDeadline = GraceDeadline(sub)
	return ev
}

// DaysInGrace returns the whole days elapsed since grace began, or 0 when the
// subscription never entered grace.
func DaysInGrace(sub *Subscription, now time.Time) int {
	if sub.GraceStartedAt == nil {
		return 0
	}
	d := now.Sub(*sub.GraceStartedAt)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// GraceDeadline returns when grace runs out, or nil outside grace.
func GraceDeadline(sub *Subscription) *time.Time {
	if sub.GraceStartedAt == nil {
		return nil
	}
	t := sub.GraceStartedAt.AddDate(0, 0, GracePeriodDays)
	return &t
}

// AccessFor maps a state to the product access it grants.
func AccessFor(state State) Access {
	switch state {
	case StateActive, StateGrace:
		return AccessFull
	case StatePending:
		return AccessLimited
	default:
		return AccessNone
	}
}
