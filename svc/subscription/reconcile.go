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

// Action is the outcome of processing one notification.
type Action string

const (
	ActionActivated  Action = "activated"
	ActionCancelled  Action = "cancelled"
	ActionGrace      Action = "grace"
	ActionDelinquent Action = "delinquent"
	ActionSkipped    Action = "skipped"
	ActionError      Action = "error"
)

// Result reports what ProcessNotification did.
type Result struct {
	Success        bool       `json:"success"`
	Action         Action     `json:"action"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	Duplicate      bool       `json:"duplicate,omitempty"`
	Message        string     `json:"message,omitempty"`
}

// ReconciliationService applies gateway notifications to local subscriptions
// exactly once per notification id.
type ReconciliationService struct {
	store       Store
	idem        IdempotencyStore
	transitions *TransitionEngine
	grace       *GraceEngine
	emitter     EventEmitter
	now         func() time.Time
	logger      *slog.Logger
}

// NewReconciliationService creates the service. idem is consulted before any
// work; the authoritative marker is written through store inside the same
// transaction as the state change.
func NewReconciliationService(store Store, idem IdempotencyStore, opts ...Option) *ReconciliationService {
	o := newOptions(opts)
	return &ReconciliationService{
		store:       store,
		idem:        idem,
		transitions: NewTransitionEngine(store, opts...),
		grace:       NewGraceEngine(store, opts...),
		emitter:     o.emitter,
		now:         o.now,
		logger:      o.logger.With(logger.Component("subscription.reconciliation")),
	}
}

// ProcessNotification reconciles one notification. detail is the gateway's
// current view of the subscription and is required for subscription
// notifications.
//
// A returned error means the attempt may succeed if repeated. Problems that
// no retry can fix (unknown subscription, forbidden transition) are reported
// through an error Result with a nil error.
func (s *ReconciliationService) ProcessNotification(ctx context.Context, n Notification, detail *RemoteDetail) (Result, error) {
	log := s.logger.With(
		logger.NotificationID(n.ID),
		slog.String("notification_type", string(n.Type)),
	)

	if n.ID == "" {
		log.WarnContext(ctx, "notification without id ignored")
		return Result{Action: ActionError, Message: ErrMalformedNotification.Error()}, nil
	}

	done, err := s.idem.WasProcessed(ctx, n.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check processing record: %w", err)
	}
	if done {
		log.DebugContext(ctx, "notification already processed")
		return Result{Success: true, Action: ActionSkipped, Duplicate: true, Message: "already processed"}, nil
	}

	if n.Type != NotificationPaymentFailed && detail == nil {
		return Result{}, errors.Join(ErrMalformedNotification, errors.New("remote detail is required"))
	}

	sub, err := s.resolve(ctx, n, detail)
	if errors.Is(err, ErrSubscriptionNotFound) {
		log.WarnContext(ctx, "no local subscription for notification",
			logger.RemoteID(n.RemoteID),
			slog.String("external_reference", n.ExternalReference))
		return Result{Action: ActionError, Message: "subscription not found"}, nil
	}
	if err != nil {
		return Result{}, err
	}
	id := sub.ID
	log = log.With(logger.SubscriptionID(id.String()))

	var (
		ev     *PendingEvent
		action Action
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		ev, action, err = s.dispatch(ctx, tx, sub, n, detail)
		if err != nil || ev == nil {
			return err
		}

		rec := ProcessingRecord{
			NotificationID:    n.ID,
			WebhookType:       n.Type,
			ExternalReference: n.ExternalReference,
			ProcessedAt:       s.now(),
		}
		if detail != nil {
			rec.RemoteStatus = detail.Status
			if rec.ExternalReference == "" {
				rec.ExternalReference = detail.ExternalReference
			}
		}
		return tx.MarkProcessed(ctx, rec)
	})

	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		log.DebugContext(ctx, "notification processed concurrently")
		return Result{Success: true, Action: ActionSkipped, SubscriptionID: &id, Duplicate: true, Message: "already processed"}, nil
	case errors.Is(err, ErrInvalidState):
		log.WarnContext(ctx, "notification rejected by state rules", logger.State(sub.State), logger.Error(err))
		return Result{Action: ActionError, SubscriptionID: &id, Message: err.Error()}, nil
	case err != nil:
		log.ErrorContext(ctx, "failed to reconcile notification", logger.Error(err))
		return Result{Action: ActionError, SubscriptionID: &id, Message: err.Error()}, err
	}

	if ev == nil {
		return Result{Success: true, Action: ActionSkipped, SubscriptionID: &id, Message: "no state change"}, nil
	}

	if c, ok := s.idem.(processedCache); ok {
		c.Remember(ctx, n.ID)
	}
	Publish(ctx, s.emitter, ev)

	log.InfoContext(ctx, "notification reconciled", slog.String("action", string(action)))
	return Result{Success: true, Action: action, SubscriptionID: &id}, nil
}

// dispatch picks the state change for a notification. Every remote status must
// be matched explicitly; an unmatched one is an error.
func (s *ReconciliationService) dispatch(ctx context.Context, tx Tx, sub *Subscription, n Notification, detail *RemoteDetail) (*PendingEvent, Action, error) {
	if n.Type == NotificationPaymentFailed {
		ev, _, err := s.grace.paymentFailed(ctx, tx, sub, n.FailureReason)
		switch {
		case err != nil:
			return nil, ActionError, err
		case ev == nil:
			return nil, ActionSkipped, nil
		case ev.Name == EventDelinquent:
			return ev, ActionDelinquent, nil
		default:
			return ev, ActionGrace, nil
		}
	}

	var (
		ev     *PendingEvent
		err    error
		action Action
	)
	switch detail.Status {
	case RemoteAuthorized:
		ev, _, err = s.transitions.activate(ctx, tx, sub, detail)
		action = ActionActivated
	case RemoteCancelled:
		ev, _, err = s.transitions.cancel(ctx, tx, sub, detail, ReasonGatewayCancelled, ActorGateway)
		action = ActionCancelled
	case RemotePaused:
		ev, _, err = s.transitions.cancel(ctx, tx, sub, detail, ReasonPausedNotSupported, ActorGateway)
		action = ActionCancelled
	case RemotePending:
		return nil, ActionSkipped, nil
	default:
		return nil, ActionError, fmt.Errorf("%w: %q", ErrUnknownRemoteStatus, detail.Status)
	}
	if err != nil {
		return nil, ActionError, err
	}
	if ev == nil {
		return nil, ActionSkipped, nil
	}
	return ev, action, nil
}

// resolve finds the local subscription by remote id, then by the local id the
// gateway echoes back as external reference.
func (s *ReconciliationService) resolve(ctx context.Context, n Notification, detail *RemoteDetail) (*Subscription, error) {
	remoteIDs := []string{n.RemoteID}
	refs := []string{n.ExternalReference}
	if detail != nil {
		remoteIDs = append(remoteIDs, detail.RemoteID)
		refs = append(refs, detail.ExternalReference)
	}

	for _, rid := range remoteIDs {
		if rid == "" {
			continue
		}
		sub, err := s.store.FindByRemoteID(ctx, rid)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, fmt.Errorf("failed to find subscription by remote id: %w", err)
		}
	}

	for _, ref := range refs {
		id, err := uuid.Parse(ref)
		if err != nil {
			continue
		}
		sub, err := s.store.Get(ctx, id)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, fmt.Errorf("failed to load subscription: %w", err)
		}
	}

	return nil, ErrSubscriptionNotFound
}
