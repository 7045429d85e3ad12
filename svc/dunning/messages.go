package dunning

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billingcore/svc/subscription"
)

type message struct {
	subject string
	body    templ.Component
}

func messageFor(name string, p subscription.EventPayload) (message, bool) {
	switch name {
	case subscription.EventGraceStarted:
		return message{
			subject: "Payment failed for your subscription",
			body: layout("We could not charge your payment method",
				paragraph(fmt.Sprintf("The latest payment of %s for plan %s failed.", formatAmount(p.FinalPrice, p.Currency), p.PlanID)),
				paragraph("Your access continues until "+formatDeadline(p.GraceDeadline)+". Update your payment method before then to keep it."),
			),
		}, true
	case subscription.EventGracePeriodUpdated:
		left := max(subscription.GracePeriodDays-p.DaysInGrace, 0)
		return message{
			subject: fmt.Sprintf("%d day(s) left to update your payment method", left),
			body: layout("Your payment is still outstanding",
				paragraph(fmt.Sprintf("We retried the charge of %s and it failed again.", formatAmount(p.FinalPrice, p.Currency))),
				paragraph(fmt.Sprintf("Access ends in %d day(s), on %s.", left, formatDeadline(p.GraceDeadline))),
			),
		}, true
	case subscription.EventDelinquent:
		return message{
			subject: "Your subscription access has been limited",
			body: layout("Grace period expired",
				paragraph(fmt.Sprintf("We could not collect %s within the %d day grace period.", formatAmount(p.FinalPrice, p.Currency), subscription.GracePeriodDays)),
				paragraph("Access is limited until the payment succeeds."),
			),
		}, true
	case subscription.EventCancelled:
		return message{
			subject: "Your subscription was cancelled",
			body: layout("Subscription cancelled",
				paragraph(fmt.Sprintf("Your subscription to plan %s was cancelled: %s.", p.PlanID, p.Reason)),
				paragraph("No further payments will be taken."),
			),
		}, true
	}
	return message{}, false
}

func layout(title string, children ...templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><body style="font-family:sans-serif"><h1>`+
			templ.EscapeString(title)+`</h1>`); err != nil {
			return err
		}
		for _, c := range children {
			if err := c.Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

func paragraph(text string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<p>"+templ.EscapeString(text)+"</p>")
		return err
	})
}

// formatAmount renders minor units as a decimal amount, e.g. 85500 USD as
// "855.00 USD".
func formatAmount(minor int64, currency string) string {
	return decimal.New(minor, -2).StringFixed(2) + " " + currency
}

func formatDeadline(t *time.Time) string {
	if t == nil {
		return "the end of the grace period"
	}
	return t.UTC().Format("January 2, 2006 15:04 MST")
}
