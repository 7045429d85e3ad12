package subscription

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingcore/pkg/circuitbreaker"
)

// CreateRequest is what the lifecycle service asks the gateway to set up.
type CreateRequest struct {
	SubscriptionID uuid.UUID
	OwnerID        uuid.UUID
	PayerEmail     string
	Plan           Plan
	Price          Price
	Currency       string
	ChargeToken    string // set for the immediate-charge flow
	SuccessURL     string
	CancelURL      string
}

// Immediate reports whether the request charges a stored payment method
// instead of sending the payer to a hosted checkout.
func (r CreateRequest) Immediate() bool {
	return r.ChargeToken != ""
}

// CreateResponse is the gateway's answer to CreateRequest. CheckoutURL is
// empty for immediate charges.
type CreateResponse struct {
	RemoteID    string
	CheckoutURL string
	Status      RemoteStatus
}

// Gateway is the external billing provider.
type Gateway interface {
	Create(ctx context.Context, req CreateRequest) (*CreateResponse, error)
	Cancel(ctx context.Context, remoteID string) (RemoteStatus, error)
	Get(ctx context.Context, remoteID string) (*RemoteDetail, error)
}

// WebhookParser authenticates and normalises inbound gateway webhooks.
// Implementations return ErrInvalidSignature for forged or tampered requests
// and ErrUnsupportedNotification for event types the core ignores.
type WebhookParser interface {
	ParseWebhook(r *http.Request, body []byte) (*Notification, error)
}

// Provider is a gateway that also delivers webhooks.
type Provider interface {
	Gateway
	WebhookParser
	Name() string
}

// GuardedGateway routes every call through a circuit breaker and maps
// failures onto ErrGatewayUnavailable and ErrGateway.
type GuardedGateway struct {
	gw      Gateway
	breaker *circuitbreaker.Breaker
}

// NewGuardedGateway wraps gw. Configure the breaker with
// circuitbreaker.WithFailurePredicate(GatewayFailurePredicate) so caller
// mistakes do not open it.
func NewGuardedGateway(gw Gateway, breaker *circuitbreaker.Breaker) *GuardedGateway {
	return &GuardedGateway{gw: gw, breaker: breaker}
}

func (g *GuardedGateway) Create(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	resp, err := circuitbreaker.Do(ctx, g.breaker, func(ctx context.Context) (*CreateResponse, error) {
		return g.gw.Create(ctx, req)
	})
	return resp, gatewayError(err)
}

func (g *GuardedGateway) Cancel(ctx context.Context, remoteID string) (RemoteStatus, error) {
	status, err := circuitbreaker.Do(ctx, g.breaker, func(ctx context.Context) (RemoteStatus, error) {
		return g.gw.Cancel(ctx, remoteID)
	})
	return status, gatewayError(err)
}

func (g *GuardedGateway) Get(ctx context.Context, remoteID string) (*RemoteDetail, error) {
	detail, err := circuitbreaker.Do(ctx, g.breaker, func(ctx context.Context) (*RemoteDetail, error) {
		return g.gw.Get(ctx, remoteID)
	})
	return detail, gatewayError(err)
}

// Breaker returns the breaker guarding the gateway.
func (g *GuardedGateway) Breaker() *circuitbreaker.Breaker {
	return g.breaker
}

func gatewayError(err error) error {
	switch {
	case err == nil:
		return nil
	case circuitbreaker.IsOpen(err):
		return errors.Join(ErrGatewayUnavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrGateway):
		return err
	default:
		return errors.Join(ErrGateway, err)
	}
}

// GatewayFailurePredicate reports whether err says something about the
// gateway's health. Declined cards and invalid requests are answers, not
// outages, so they do not count against the breaker.
func GatewayFailurePredicate(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, ErrImmediateChargeUnsupported),
		errors.Is(err, ErrRemoteNotFound),
		errors.Is(err, ErrChargeNotAuthorized),
		errors.Is(err, ErrInvalidInput):
		return false
	}
	return true
}
