package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event names published after commit.
const (
	EventCreated            = "subscription.created"
	EventActivated          = "subscription.activated"
	EventCancelled          = "subscription.cancelled"
	EventGraceStarted       = "subscription.grace_started"
	EventGracePeriodUpdated = "subscription.grace_period_updated"
	EventDelinquent         = "subscription.delinquent"
)

// EventPayload is the body of every subscription event.
type EventPayload struct {
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	PlanID         string     `json:"plan_id"`
	RemoteID       string     `json:"remote_id,omitempty"`
	FromState      State      `json:"from_state,omitempty"`
	ToState        State      `json:"to_state"`
	Reason         string     `json:"reason,omitempty"`
	Actor          string     `json:"actor,omitempty"`
	Version        int64      `json:"version"`
	FinalPrice     int64      `json:"final_price,omitempty"`
	Currency       string     `json:"currency,omitempty"`
	DaysInGrace    int        `json:"days_in_grace,omitempty"`
	GraceDeadline  *time.Time `json:"grace_deadline,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// PendingEvent is an event descriptor produced inside a transaction. It must
// be published only once the transaction has committed.
type PendingEvent struct {
	Name           string
	SubscriptionID uuid.UUID
	Payload        EventPayload
}

func newPendingEvent(name string, from State, sub *Subscription, reason, actor string, at time.Time) *PendingEvent {
	return &PendingEvent{
		Name:           name,
		SubscriptionID: sub.ID,
		Payload: EventPayload{
			SubscriptionID: sub.ID,
			OwnerID:        sub.OwnerID,
			PlanID:         sub.PlanID,
			RemoteID:       sub.RemoteID,
			FromState:      from,
			ToState:        sub.State,
			Reason:         reason,
			Actor:          actor,
			Version:        sub.Version,
			FinalPrice:     sub.FinalPrice,
			Currency:       sub.Currency,
			OccurredAt:     at,
		},
	}
}

// Publish emits ev through e. A nil event is ignored.
func Publish(ctx context.Context, e EventEmitter, ev *PendingEvent) {
	if ev == nil || e == nil {
		return
	}
	e.Emit(ctx, ev.Name, ev.Payload)
}
