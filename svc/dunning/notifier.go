package dunning

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingcore/pkg/email"
	"github.com/dmitrymomot/billingcore/pkg/email/templates"
	"github.com/dmitrymomot/billingcore/pkg/eventbus"
	"github.com/dmitrymomot/billingcore/pkg/logger"
	"github.com/dmitrymomot/billingcore/svc/subscription"
)

// Tag marks every dunning email for provider-side analytics.
const Tag = "dunning"

// Subscriber is the consuming side of the event bus.
type Subscriber interface {
	Subscribe(name string, handler eventbus.Handler) (unsubscribe func())
}

// Notifier turns subscription events into owner emails.
type Notifier struct {
	owners  subscription.OwnerDirectory
	sender  email.EmailSender
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithSendTimeout bounds a single delivery. Defaults to 10s.
func WithSendTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func NewNotifier(owners subscription.OwnerDirectory, sender email.EmailSender, opts ...Option) *Notifier {
	n := &Notifier{
		owners:  owners,
		sender:  sender,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With(logger.Component("dunning"))
	return n
}

// Events lists the event names the notifier reacts to.
func Events() []string {
	return []string{
		subscription.EventGraceStarted,
		subscription.EventGracePeriodUpdated,
		subscription.EventDelinquent,
		subscription.EventCancelled,
	}
}

// Subscribe registers Handle for every event in Events and returns a function
// removing all the subscriptions.
func (n *Notifier) Subscribe(bus Subscriber) (unsubscribe func()) {
	names := Events()
	unsubs := make([]func(), 0, len(names))
	for _, name := range names {
		unsubs = append(unsubs, bus.Subscribe(name, n.Handle))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handle is an eventbus.Handler.
func (n *Notifier) Handle(ctx context.Context, e eventbus.Event) {
	if err := n.Notify(ctx, e.Name, e.Payload); err != nil {
		n.logger.ErrorContext(ctx, "failed to send dunning email",
			logger.Event(e.Name),
			logger.Error(err))
	}
}

// Notify sends the email for one event. Events without a message and payloads
// of another type are ignored.
func (n *Notifier) Notify(ctx context.Context, name string, payload any) error {
	p, ok := payload.(subscription.EventPayload)
	if !ok {
		return nil
	}
	msg, ok := messageFor(name, p)
	if !ok {
		return nil
	}

	owner, err := n.owners.GetOwner(ctx, p.OwnerID)
	if err != nil {
		return err
	}
	if owner.Email == "" {
		n.logger.WarnContext(ctx, "owner has no email address, dunning email skipped",
			logger.OwnerID(p.OwnerID),
			logger.Event(name))
		return nil
	}

	body, err := templates.Render(ctx, msg.body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   owner.Email,
		Subject:  msg.subject,
		BodyHTML: body,
		Tag:      Tag,
	}); err != nil {
		return err
	}

	n.logger.InfoContext(ctx, "dunning email sent",
		logger.Event(name),
		logger.SubscriptionID(p.SubscriptionID),
		logger.OwnerID(p.OwnerID))
	return nil
}
