package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/shopspring/decimal"
)

// ProviderPaddle names the Paddle gateway in routes, logs and task ids.
const ProviderPaddle = "paddle"

// PaddleConfig holds configuration for the Paddle gateway.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	// BaseURL overrides the API host picked by Environment.
	BaseURL string `env:"PADDLE_BASE_URL"`
}

// PaddleGateway implements Provider on Paddle Billing. Paddle only sells
// through hosted checkouts, so immediate charges are rejected.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleGateway creates the gateway.
func NewPaddleGateway(config PaddleConfig) (*PaddleGateway, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var opts []paddle.Option
	if config.BaseURL != "" {
		opts = append(opts, paddle.WithBaseURL(config.BaseURL))
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey, opts...)
	case "production", "":
		client, err = paddle.New(config.APIKey, opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidGatewayEnvironment, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleGateway{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
	}, nil
}

func (p *PaddleGateway) Name() string { return ProviderPaddle }

// Create opens a checkout transaction priced at the discounted amount. The
// returned remote id is the transaction id until the subscription webhook
// arrives.
func (p *PaddleGateway) Create(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	if req.Immediate() {
		return nil, ErrImmediateChargeUnsupported
	}
	item, err := paddleItem(req)
	if err != nil {
		return nil, err
	}

	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"subscription_id":  req.SubscriptionID.String(),
			"owner_id":         req.OwnerID.String(),
			"discount_percent": req.Price.Percent,
			"final_price":      req.Price.Final,
		},
	}
	if req.PayerEmail != "" {
		txReq.CustomData["email"] = req.PayerEmail
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CreateResponse{
		RemoteID:    transaction.ID,
		CheckoutURL: *transaction.Checkout.URL,
		Status:      RemotePending,
	}, nil
}

// paddleItem charges Price.Final as a non-catalog price on the plan's
// product. The catalog price is only usable when no discount applies.
func paddleItem(req CreateRequest) (*paddle.CreateTransactionItems, error) {
	if req.Plan.RemoteProduct != "" {
		rec := req.Plan.Recurrence
		return paddle.NewCreateTransactionItemsTransactionItemCreateWithPrice(&paddle.TransactionItemCreateWithPrice{
			Quantity: 1,
			Price: paddle.TransactionPriceCreateWithProductID{
				Description: fmt.Sprintf("%s, %d%% off", req.Plan.ID, req.Price.Percent),
				Name:        paddle.PtrTo(req.Plan.Name),
				BillingCycle: &paddle.Duration{
					Interval:  paddleInterval(rec.FrequencyType),
					Frequency: max(rec.Frequency, 1),
				},
				UnitPrice: paddle.Money{
					Amount:       strconv.FormatInt(req.Price.Final, 10),
					CurrencyCode: paddle.CurrencyCode(strings.ToUpper(req.Currency)),
				},
				Quantity:  paddle.PriceQuantity{Minimum: 1, Maximum: 1},
				ProductID: req.Plan.RemoteProduct,
			},
		}), nil
	}

	switch {
	case req.Plan.RemotePriceID == "":
		return nil, errors.Join(ErrInvalidInput, errors.New("plan has no paddle product or price id"))
	case req.Price.Final != req.Price.Base:
		return nil, errors.Join(ErrInvalidInput, errors.New("discounted paddle checkout needs a product id"))
	}
	return paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.Plan.RemotePriceID,
		Quantity: 1,
	}), nil
}

func (p *PaddleGateway) Cancel(ctx context.Context, remoteID string) (RemoteStatus, error) {
	if !strings.HasPrefix(remoteID, "sub_") {
		// Checkout never completed; there is nothing to cancel remotely.
		return RemoteCancelled, nil
	}

	sub, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: remoteID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFrom("immediately")),
	})
	if err != nil {
		return "", fmt.Errorf("failed to cancel paddle subscription: %w", err)
	}
	return MapPaddleStatus(string(sub.Status)), nil
}

func (p *PaddleGateway) Get(ctx context.Context, remoteID string) (*RemoteDetail, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: remoteID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get paddle subscription: %w", err)
	}

	detail := &RemoteDetail{
		RemoteID: sub.ID,
		Status:   MapPaddleStatus(string(sub.Status)),
		Recurrence: Recurrence{
			Frequency:     sub.BillingCycle.Frequency,
			FrequencyType: paddleFrequency(string(sub.BillingCycle.Interval)),
			Currency:      string(sub.CurrencyCode),
		},
	}
	if ref, ok := sub.CustomData["subscription_id"].(string); ok {
		detail.ExternalReference = ref
	}
	if sub.NextBilledAt != nil {
		if t, err := time.Parse(time.RFC3339, *sub.NextBilledAt); err == nil {
			detail.NextPaymentDate = &t
		}
	}
	if len(sub.Items) > 0 {
		if amount, err := decimal.NewFromString(sub.Items[0].Price.UnitPrice.Amount); err == nil {
			detail.Recurrence.Amount = amount.IntPart()
		}
	}
	return detail, nil
}

// ParseWebhook verifies the Paddle-Signature header and normalises the event.
func (p *PaddleGateway) ParseWebhook(r *http.Request, body []byte) (*Notification, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, "/webhook", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", r.Header.Get("Paddle-Signature"))

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	return parsePaddleNotification(body)
}

type paddleEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID             string         `json:"id"`
		Status         string         `json:"status"`
		SubscriptionID string         `json:"subscription_id"`
		CustomData     map[string]any `json:"custom_data"`
		Payments       []struct {
			ErrorCode string `json:"error_code"`
		} `json:"payments"`
	} `json:"data"`
}

func parsePaddleNotification(body []byte) (*Notification, error) {
	var ev paddleEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, errors.Join(ErrMalformedNotification, err)
	}
	if ev.EventID == "" {
		return nil, errors.Join(ErrMalformedNotification, errors.New("missing event_id"))
	}

	n := &Notification{ID: ev.EventID, Provider: ProviderPaddle}
	if ref, ok := ev.Data.CustomData["subscription_id"].(string); ok {
		n.ExternalReference = ref
	}

	switch {
	case strings.HasPrefix(ev.EventType, "subscription."):
		n.Type = NotificationSubscription
		n.RemoteID = ev.Data.ID
	case ev.EventType == "transaction.payment_failed":
		if ev.Data.SubscriptionID == "" {
			return nil, fmt.Errorf("%w: payment failure outside a subscription", ErrUnsupportedNotification)
		}
		n.Type = NotificationPaymentFailed
		n.RemoteID = ev.Data.SubscriptionID
		n.FailureReason = "payment failed"
		for _, p := range ev.Data.Payments {
			if p.ErrorCode != "" {
				n.FailureReason = p.ErrorCode
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNotification, ev.EventType)
	}
	return n, nil
}

// MapPaddleStatus maps a Paddle subscription status onto RemoteStatus.
// Unrecognised values are passed through so reconciliation rejects them.
func MapPaddleStatus(status string) RemoteStatus {
	switch strings.ToLower(status) {
	case "active":
		return RemoteAuthorized
	case "canceled", "cancelled":
		return RemoteCancelled
	case "paused":
		return RemotePaused
	case "past_due", "trialing":
		return RemotePending
	default:
		return RemoteStatus(status)
	}
}

func paddleInterval(frequencyType string) paddle.Interval {
	switch frequencyType {
	case FrequencyDays:
		return paddle.IntervalDay
	case FrequencyWeeks:
		return paddle.IntervalWeek
	case FrequencyYears:
		return paddle.IntervalYear
	default:
		return paddle.IntervalMonth
	}
}

func paddleFrequency(interval string) string {
	switch interval {
	case "day":
		return FrequencyDays
	case "week":
		return FrequencyWeeks
	case "month":
		return FrequencyMonths
	case "year":
		return FrequencyYears
	}
	return interval
}
