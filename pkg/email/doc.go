// Package email sends transactional email through a provider-agnostic
// EmailSender.
//
// Two senders are provided:
//   - NewPostmarkClient delivers through Postmark's transactional API.
//   - NewLogSender writes each message to a structured logger, for local
//     development and for deployments without mail credentials.
//
// Bodies are HTML. The templates subpackage renders templ components into
// strings suitable for SendEmailParams.BodyHTML.
//
//	sender, err := email.NewPostmarkClient(cfg)
//	if err != nil {
//	    return err
//	}
//	err = sender.SendEmail(ctx, email.SendEmailParams{
//	    SendTo:   "owner@example.com",
//	    Subject:  "Payment failed",
//	    BodyHTML: html,
//	    Tag:      "dunning",
//	})
//
// Every sender validates SendEmailParams first and reports ErrInvalidParams
// for incomplete messages.
package email
