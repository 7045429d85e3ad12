package subscription

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrOwnerNotFound          = errors.New("owner not found")
	ErrPlanNotFoundOrInactive = errors.New("plan not found or inactive")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrUnauthorized           = errors.New("requester does not own the subscription")
	ErrInvalidState           = errors.New("invalid subscription state")
	ErrInvalidInput           = errors.New("invalid input")

	ErrGatewayUnavailable         = errors.New("billing gateway unavailable")
	ErrGateway                    = errors.New("billing gateway error")
	ErrImmediateChargeUnsupported = errors.New("gateway does not support immediate charges")
	ErrChargeNotAuthorized        = errors.New("immediate charge was not authorized")
	ErrRemoteNotFound             = errors.New("remote subscription not found")

	ErrOptimisticLockConflict = errors.New("optimistic lock conflict")
	ErrUnknownRemoteStatus    = errors.New("unknown remote status")
	ErrAlreadyProcessed       = errors.New("notification already processed")

	ErrInvalidSignature          = errors.New("webhook signature verification failed")
	ErrUnsupportedNotification   = errors.New("notification type is not handled")
	ErrMalformedNotification     = errors.New("malformed notification payload")
	ErrMissingAPIKey             = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret      = errors.New("billing provider webhook secret is required")
	ErrInvalidGatewayEnvironment = errors.New("invalid billing provider environment")
	ErrNoCheckoutURL             = errors.New("no checkout URL returned from provider")
)

// ConflictError reports a version-checked write that matched no row because
// the stored version moved on.
type ConflictError struct {
	SubscriptionID  uuid.UUID
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("subscription %s: expected version %d, found %d",
		e.SubscriptionID, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConflictError) Unwrap() error {
	return ErrOptimisticLockConflict
}
