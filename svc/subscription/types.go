package subscription

import (
	"time"

	"github.com/google/uuid"
)

// State is the locally stored lifecycle state of a subscription.
// A gateway "paused" signal is never stored; it is mapped to StateCancelled.
type State string

const (
	StatePending    State = "pending"
	StateActive     State = "active"
	StateGrace      State = "grace"
	StateDelinquent State = "delinquent"
	StateCancelled  State = "cancelled"
)

func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateActive, StateGrace, StateDelinquent, StateCancelled:
		return true
	}
	return false
}

// GracePeriodDays is how long access survives a failed charge before the
// subscription becomes delinquent.
const GracePeriodDays = 3

// Subscription is the authoritative billing record of one owner on one plan.
// Version increases by exactly one on every successful write.
type Subscription struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	PlanID          string
	State           State
	RemoteID        string // empty until the gateway confirms
	FinalPrice      int64  // minor units, after discount
	Currency        string
	DiscountPercent int
	Version         int64
	GraceDaysUsed   int
	GraceStartedAt  *time.Time
	NextChargeAt    *time.Time
	CancelledAt     *time.Time
	CancelReason    string
	CancelledBy     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy, so engines can prepare a write without touching
// the caller's value until the transaction commits.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.GraceStartedAt = cloneTime(s.GraceStartedAt)
	c.NextChargeAt = cloneTime(s.NextChargeAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StateHistoryEntry is an append-only audit row written in the same
// transaction as every state change. FromState is empty for creation.
type StateHistoryEntry struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	FromState      State
	ToState        State
	Reason         string
	Actor          string
	Metadata       map[string]any
	OccurredAt     time.Time
}

// ProcessingRecord marks a gateway notification as handled. Its existence
// means the notification must not be processed again.
type ProcessingRecord struct {
	NotificationID    string
	WebhookType       NotificationType
	RemoteStatus      RemoteStatus
	ExternalReference string
	ProcessedAt       time.Time
}

// RemoteStatus is the gateway's status vocabulary, normalised by the gateway
// adapters.
type RemoteStatus string

const (
	RemoteAuthorized RemoteStatus = "authorized"
	RemoteCancelled  RemoteStatus = "cancelled"
	RemotePaused     RemoteStatus = "paused"
	RemotePending    RemoteStatus = "pending"
)

// Frequency units used in Recurrence.
const (
	FrequencyDays   = "days"
	FrequencyWeeks  = "weeks"
	FrequencyMonths = "months"
	FrequencyYears  = "years"
)

// Recurrence describes how often and how much the gateway charges.
type Recurrence struct {
	Frequency     int    `json:"frequency"`
	FrequencyType string `json:"frequency_type"`
	Amount        int64  `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

// Next returns the charge date following from. A zero recurrence yields zero time.
func (r Recurrence) Next(from time.Time) time.Time {
	n := max(r.Frequency, 1)
	switch r.FrequencyType {
	case FrequencyDays:
		return from.AddDate(0, 0, n)
	case FrequencyWeeks:
		return from.AddDate(0, 0, 7*n)
	case FrequencyMonths:
		return from.AddDate(0, n, 0)
	case FrequencyYears:
		return from.AddDate(n, 0, 0)
	}
	return time.Time{}
}

// RemoteDetail is the gateway's current view of a subscription.
type RemoteDetail struct {
	RemoteID          string       `json:"remote_id"`
	Status            RemoteStatus `json:"status"`
	ExternalReference string       `json:"external_reference,omitempty"`
	NextPaymentDate   *time.Time   `json:"next_payment_date,omitempty"`
	Recurrence        Recurrence   `json:"recurrence"`
}

// NotificationType distinguishes subscription status changes from charge failures.
type NotificationType string

const (
	NotificationSubscription  NotificationType = "subscription"
	NotificationPaymentFailed NotificationType = "payment_failed"
)

// Notification is a verified, normalised gateway webhook.
type Notification struct {
	ID                string           `json:"id"`
	Type              NotificationType `json:"type"`
	Provider          string           `json:"provider,omitempty"`
	RemoteID          string           `json:"remote_id,omitempty"`
	ExternalReference string           `json:"external_reference,omitempty"`
	FailureReason     string           `json:"failure_reason,omitempty"`
}

// Money is an amount in the smallest currency unit.
type Money struct {
	Amount   int64
	Currency string
}

// Plan is the catalog view the lifecycle service needs.
type Plan struct {
	ID            string
	Name          string
	Price         Money
	Recurrence    Recurrence
	RemotePriceID string // gateway catalog price, used by hosted checkouts
	RemoteProduct string // gateway product the ad-hoc price is attached to
	Active        bool
}

// Owner is the account that pays for a subscription.
type Owner struct {
	ID    uuid.UUID
	Email string
}

// Access is the level of product access a state grants.
type Access string

const (
	AccessFull    Access = "full"
	AccessLimited Access = "limited"
	AccessNone    Access = "none"
)

// Actors recorded on history entries that are not a user id.
const (
	ActorGateway = "gateway"
	ActorSystem  = "system"
)

// History reasons.
const (
	ReasonCreated            = "created"
	ReasonAuthorized         = "authorized"
	ReasonGatewayCancelled   = "cancelled by gateway"
	ReasonPausedNotSupported = "gateway paused the subscription; pausing is not supported, so it was cancelled"
	ReasonGracePeriodExpired = "grace period expired"
	ReasonUserCancelled      = "cancelled by owner"
)
