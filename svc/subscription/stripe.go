package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ProviderStripe names the Stripe gateway in routes, logs and task ids.
const ProviderStripe = "stripe"

// StripeConfig holds configuration for the Stripe gateway.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// StripeGateway implements Provider on Stripe. A charge token is a payment
// method id; without one the payer is sent to a Checkout session.
type StripeGateway struct {
	client        *stripe.Client
	webhookSecret string
}

// NewStripeGateway creates the gateway.
func NewStripeGateway(config StripeConfig) (*StripeGateway, error) {
	if config.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &StripeGateway{
		client:        stripe.NewClient(config.SecretKey, nil),
		webhookSecret: config.WebhookSecret,
	}, nil
}

func (s *StripeGateway) Name() string { return ProviderStripe }

func (s *StripeGateway) Create(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	if req.Plan.RemoteProduct == "" {
		return nil, errors.Join(ErrInvalidInput, errors.New("plan has no stripe product id"))
	}
	if req.Immediate() {
		return s.charge(ctx, req)
	}
	return s.checkout(ctx, req)
}

func (s *StripeGateway) charge(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	metadata := stripeMetadata(req)

	customer, err := s.client.V1Customers.Create(ctx, &stripe.CustomerCreateParams{
		Email:         stripe.String(req.PayerEmail),
		PaymentMethod: stripe.String(req.ChargeToken),
		InvoiceSettings: &stripe.CustomerCreateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(req.ChargeToken),
		},
		Metadata: metadata,
	})
	if err != nil {
		return nil, stripeError("create customer", err)
	}

	sub, err := s.client.V1Subscriptions.Create(ctx, &stripe.SubscriptionCreateParams{
		Customer: stripe.String(customer.ID),
		Items: []*stripe.SubscriptionCreateItemParams{{
			PriceData: &stripe.SubscriptionCreateItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				Product:    stripe.String(req.Plan.RemoteProduct),
				UnitAmount: stripe.Int64(req.Price.Final),
				Recurring: &stripe.SubscriptionCreateItemPriceDataRecurringParams{
					Interval:      stripe.String(stripeInterval(req.Plan.Recurrence.FrequencyType)),
					IntervalCount: stripe.Int64(int64(max(req.Plan.Recurrence.Frequency, 1))),
				},
			},
		}},
		DefaultPaymentMethod: stripe.String(req.ChargeToken),
		PaymentBehavior:      stripe.String("error_if_incomplete"),
		Metadata:             metadata,
	})
	if err != nil {
		return nil, stripeError("create subscription", err)
	}

	return &CreateResponse{
		RemoteID: sub.ID,
		Status:   MapStripeStatus(string(sub.Status)),
	}, nil
}

func (s *StripeGateway) checkout(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	metadata := stripeMetadata(req)

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String("subscription"),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				Product:    stripe.String(req.Plan.RemoteProduct),
				UnitAmount: stripe.Int64(req.Price.Final),
				Recurring: &stripe.CheckoutSessionCreateLineItemPriceDataRecurringParams{
					Interval:      stripe.String(stripeInterval(req.Plan.Recurrence.FrequencyType)),
					IntervalCount: stripe.Int64(int64(max(req.Plan.Recurrence.Frequency, 1))),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		ClientReferenceID: stripe.String(req.SubscriptionID.String()),
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: metadata,
		},
		Metadata: metadata,
	}
	if req.PayerEmail != "" {
		params.CustomerEmail = stripe.String(req.PayerEmail)
	}
	if req.SuccessURL != "" {
		params.SuccessURL = stripe.String(req.SuccessURL)
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}

	session, err := s.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, stripeError("create checkout session", err)
	}
	if session.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CreateResponse{
		RemoteID:    session.ID,
		CheckoutURL: session.URL,
		Status:      RemotePending,
	}, nil
}

func (s *StripeGateway) Cancel(ctx context.Context, remoteID string) (RemoteStatus, error) {
	if !strings.HasPrefix(remoteID, "sub_") {
		// An unfinished checkout session has no subscription to cancel.
		return RemoteCancelled, nil
	}
	sub, err := s.client.V1Subscriptions.Cancel(ctx, remoteID, &stripe.SubscriptionCancelParams{})
	if err != nil {
		return "", stripeError("cancel subscription", err)
	}
	return MapStripeStatus(string(sub.Status)), nil
}

func (s *StripeGateway) Get(ctx context.Context, remoteID string) (*RemoteDetail, error) {
	sub, err := s.client.V1Subscriptions.Retrieve(ctx, remoteID, &stripe.SubscriptionRetrieveParams{})
	if err != nil {
		return nil, stripeError("retrieve subscription", err)
	}

	detail := &RemoteDetail{
		RemoteID:          sub.ID,
		Status:            MapStripeStatus(string(sub.Status)),
		ExternalReference: sub.Metadata["subscription_id"],
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			detail.NextPaymentDate = &t
		}
		if item.Price != nil {
			detail.Recurrence.Amount = item.Price.UnitAmount
			detail.Recurrence.Currency = strings.ToUpper(string(item.Price.Currency))
			if item.Price.Recurring != nil {
				detail.Recurrence.Frequency = int(item.Price.Recurring.IntervalCount)
				detail.Recurrence.FrequencyType = stripeFrequency(item.Price.Recurring.Interval)
			}
		}
	}
	return detail, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalises the event.
func (s *StripeGateway) ParseWebhook(r *http.Request, body []byte) (*Notification, error) {
	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return nil, errors.Join(ErrMalformedNotification, errors.New("event has no data"))
	}
	return parseStripeNotification(event.ID, string(event.Type), event.Data.Raw)
}

type stripeObject struct {
	ID                string            `json:"id"`
	Subscription      json.RawMessage   `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	Parent            *struct {
		SubscriptionDetails *struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	LastFinalizationError *struct {
		Code string `json:"code"`
	} `json:"last_finalization_error"`
}

// subscriptionID reads the subscription reference, which Stripe sends either
// as an id or as an expanded object.
func (o stripeObject) subscriptionID() string {
	if o.Parent != nil && o.Parent.SubscriptionDetails != nil && o.Parent.SubscriptionDetails.Subscription != "" {
		return o.Parent.SubscriptionDetails.Subscription
	}
	if len(o.Subscription) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(o.Subscription, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(o.Subscription, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func parseStripeNotification(eventID, eventType string, raw json.RawMessage) (*Notification, error) {
	if eventID == "" {
		return nil, errors.Join(ErrMalformedNotification, errors.New("missing event id"))
	}

	var obj stripeObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.Join(ErrMalformedNotification, err)
	}

	n := &Notification{ID: eventID, Provider: ProviderStripe}
	switch {
	case strings.HasPrefix(eventType, "customer.subscription."):
		n.Type = NotificationSubscription
		n.RemoteID = obj.ID
		n.ExternalReference = obj.Metadata["subscription_id"]
	case eventType == "checkout.session.completed":
		n.Type = NotificationSubscription
		n.RemoteID = obj.subscriptionID()
		n.ExternalReference = obj.ClientReferenceID
		if n.RemoteID == "" {
			return nil, fmt.Errorf("%w: checkout session without subscription", ErrUnsupportedNotification)
		}
	case eventType == "invoice.payment_failed":
		n.Type = NotificationPaymentFailed
		n.RemoteID = obj.subscriptionID()
		if n.RemoteID == "" {
			return nil, fmt.Errorf("%w: invoice outside a subscription", ErrUnsupportedNotification)
		}
		if obj.Parent != nil && obj.Parent.SubscriptionDetails != nil {
			n.ExternalReference = obj.Parent.SubscriptionDetails.Metadata["subscription_id"]
		}
		n.FailureReason = "invoice payment failed"
		if obj.LastFinalizationError != nil && obj.LastFinalizationError.Code != "" {
			n.FailureReason = obj.LastFinalizationError.Code
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNotification, eventType)
	}
	return n, nil
}

// MapStripeStatus maps a Stripe subscription status onto RemoteStatus.
// Unrecognised values are passed through so reconciliation rejects them.
func MapStripeStatus(status string) RemoteStatus {
	switch status {
	case "active", "trialing":
		return RemoteAuthorized
	case "canceled", "incomplete_expired":
		return RemoteCancelled
	case "paused":
		return RemotePaused
	case "incomplete", "past_due", "unpaid":
		return RemotePending
	default:
		return RemoteStatus(status)
	}
}

func stripeMetadata(req CreateRequest) map[string]string {
	return map[string]string{
		"subscription_id":  req.SubscriptionID.String(),
		"owner_id":         req.OwnerID.String(),
		"plan_id":          req.Plan.ID,
		"discount_percent": fmt.Sprint(req.Price.Percent),
	}
}

func stripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusNotFound:
			return errors.Join(ErrRemoteNotFound, err)
		case se.Code == stripe.ErrorCodeCardDeclined:
			return errors.Join(ErrChargeNotAuthorized, err)
		}
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}

func stripeInterval(frequencyType string) string {
	switch frequencyType {
	case FrequencyDays:
		return string(stripe.PriceRecurringIntervalDay)
	case FrequencyWeeks:
		return string(stripe.PriceRecurringIntervalWeek)
	case FrequencyYears:
		return string(stripe.PriceRecurringIntervalYear)
	default:
		return string(stripe.PriceRecurringIntervalMonth)
	}
}

func stripeFrequency(interval stripe.PriceRecurringInterval) string {
	switch interval {
	case stripe.PriceRecurringIntervalDay:
		return FrequencyDays
	case stripe.PriceRecurringIntervalWeek:
		return FrequencyWeeks
	case stripe.PriceRecurringIntervalYear:
		return FrequencyYears
	default:
		return FrequencyMonths
	}
}
