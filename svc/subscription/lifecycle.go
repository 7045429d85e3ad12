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

// CreateInput describes a new subscription.
type CreateInput struct {
	OwnerID      uuid.UUID
	PlanID       string
	ChildOrdinal int    // 1 for the first subscription of a family
	ChargeToken  string // stored payment method; empty selects hosted checkout
	PayerEmail   string
	SuccessURL   string
	CancelURL    string
}

// CreateResult is returned by Create.
type CreateResult struct {
	SubscriptionID  uuid.UUID `json:"subscription_id"`
	RemoteID        string    `json:"remote_id"`
	CheckoutURL     string    `json:"checkout_url,omitempty"`
	FinalPrice      int64     `json:"final_price"`
	Currency        string    `json:"currency"`
	DiscountPercent int       `json:"discount_percent"`
	ImmediateCharge bool      `json:"immediate_charge"`
}

// CancelInput describes an owner-initiated cancellation.
type CancelInput struct {
	SubscriptionID uuid.UUID
	RequesterID    uuid.UUID
	Reason         string
}

// LifecycleService creates and cancels subscriptions on behalf of owners.
type LifecycleService struct {
	store       Store
	gateway     Gateway
	owners      OwnerDirectory
	plans       PlanCatalog
	transitions *TransitionEngine
	emitter     EventEmitter
	now         func() time.Time
	logger      *slog.Logger
}

// NewLifecycleService creates the service. gateway is expected to be a
// *GuardedGateway in production.
func NewLifecycleService(store Store, gateway Gateway, owners OwnerDirectory, plans PlanCatalog, opts ...Option) *LifecycleService {
	o := newOptions(opts)
	return &LifecycleService{
		store:       store,
		gateway:     gateway,
		owners:      owners,
		plans:       plans,
		transitions: NewTransitionEngine(store, opts...),
		emitter:     o.emitter,
		now:         o.now,
		logger:      o.logger.With(logger.Component("subscription.lifecycle")),
	}
}

// Create validates the owner and plan, then inserts the subscription and
// registers it with the gateway in one transaction. A gateway failure leaves
// no row behind.
func (s *LifecycleService) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if in.OwnerID == uuid.Nil || in.PlanID == "" || in.ChildOrdinal < 1 {
		return nil, ErrInvalidInput
	}

	owner, err := s.owners.GetOwner(ctx, in.OwnerID)
	if err != nil {
		if errors.Is(err, ErrOwnerNotFound) {
			return nil, ErrOwnerNotFound
		}
		return nil, fmt.Errorf("failed to load owner: %w", err)
	}
	if owner == nil {
		return nil, ErrOwnerNotFound
	}

	plan, err := s.plans.GetPlan(ctx, in.PlanID)
	if err != nil {
		if errors.Is(err, ErrPlanNotFoundOrInactive) {
			return nil, ErrPlanNotFoundOrInactive
		}
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if plan == nil || !plan.Active {
		return nil, ErrPlanNotFoundOrInactive
	}

	price := ApplyDiscount(plan.Price.Amount, DiscountForOrdinal(in.ChildOrdinal))
	immediate := in.ChargeToken != ""
	now := s.now()

	sub := &Subscription{
		ID:              uuid.New(),
		OwnerID:         owner.ID,
		PlanID:          plan.ID,
		State:           StatePending,
		FinalPrice:      price.Final,
		Currency:        plan.Price.Currency,
		DiscountPercent: price.Percent,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if immediate {
		sub.State = StateActive
		if next := plan.Recurrence.Next(now); !next.IsZero() {
			sub.NextChargeAt = &next
		}
	}

	email := in.PayerEmail
	if email == "" {
		email = owner.Email
	}
	req := CreateRequest{
		SubscriptionID: sub.ID,
		OwnerID:        owner.ID,
		PayerEmail:     email,
		Plan:           *plan,
		Price:          price,
		Currency:       plan.Price.Currency,
		ChargeToken:    in.ChargeToken,
		SuccessURL:     in.SuccessURL,
		CancelURL:      in.CancelURL,
	}

	var resp *CreateResponse
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Insert(ctx, sub); err != nil {
			return fmt.Errorf("failed to insert subscription: %w", err)
		}
		if err := tx.AppendHistory(ctx, StateHistoryEntry{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			ToState:        sub.State,
			Reason:         ReasonCreated,
			Actor:          owner.ID.String(),
			Metadata: map[string]any{
				"plan_id":          plan.ID,
				"discount_percent": price.Percent,
				"final_price":      price.Final,
				"immediate_charge": immediate,
			},
			OccurredAt: now,
		}); err != nil {
			return err
		}

		var err error
		resp, err = s.gateway.Create(ctx, req)
		if err != nil {
			return err
		}
		if immediate && resp.Status != RemoteAuthorized {
			return errors.Join(ErrChargeNotAuthorized, fmt.Errorf("gateway returned status %q", resp.Status))
		}

		stored := sub.Clone()
		stored.RemoteID = resp.RemoteID
		if err := tx.UpdateVersioned(ctx, stored, sub.Version); err != nil {
			return err
		}
		*sub = *stored
		return nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "subscription creation rolled back",
			logger.OwnerID(in.OwnerID.String()),
			slog.String("plan_id", in.PlanID),
			logger.Error(err))
		return nil, err
	}

	Publish(ctx, s.emitter, newPendingEvent(EventCreated, "", sub, ReasonCreated, owner.ID.String(), now))

	s.logger.InfoContext(ctx, "subscription created",
		logger.SubscriptionID(sub.ID.String()),
		logger.RemoteID(sub.RemoteID),
		logger.State(sub.State),
		slog.Int("discount_percent", price.Percent))

	return &CreateResult{
		SubscriptionID:  sub.ID,
		RemoteID:        sub.RemoteID,
		CheckoutURL:     resp.CheckoutURL,
		FinalPrice:      price.Final,
		Currency:        sub.Currency,
		DiscountPercent: price.Percent,
		ImmediateCharge: immediate,
	}, nil
}

// Cancel cancels the subscription at the gateway and locally, in that order,
// inside one transaction.
func (s *LifecycleService) Cancel(ctx context.Context, in CancelInput) (*Subscription, error) {
	sub, err := s.store.Get(ctx, in.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.OwnerID != in.RequesterID {
		return nil, ErrUnauthorized
	}
	if sub.State == StateCancelled {
		return nil, errors.Join(ErrInvalidState, errors.New("subscription is already cancelled"))
	}

	reason := in.Reason
	if reason == "" {
		reason = ReasonUserCancelled
	}

	var (
		ev   *PendingEvent
		next *Subscription
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		detail := &RemoteDetail{RemoteID: sub.RemoteID}
		if sub.RemoteID != "" {
			status, err := s.gateway.Cancel(ctx, sub.RemoteID)
			if err != nil {
				return err
			}
			detail.Status = status
		}

		var err error
		ev, next, err = s.transitions.cancel(ctx, tx, sub, detail, reason, in.RequesterID.String())
		return err
	})
	if err != nil {
		return nil, err
	}

	Publish(ctx, s.emitter, ev)
	return next, nil
}
