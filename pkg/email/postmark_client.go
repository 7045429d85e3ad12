package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mrz1836/postmark"
)

// PostmarkSender delivers mail through Postmark's transactional API.
type PostmarkSender struct {
	api   *postmark.Client
	from  string
	reply string
}

// NewPostmarkClient validates cfg and returns a Postmark-backed sender.
func NewPostmarkClient(cfg Config) (*PostmarkSender, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &PostmarkSender{
		api:   postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:  cfg.SenderEmail,
		reply: cfg.SupportEmail,
	}, nil
}

// NewSender picks Postmark when both tokens are configured and the log
// sender otherwise.
func NewSender(cfg Config, l *slog.Logger) (EmailSender, error) {
	if !cfg.PostmarkEnabled() {
		return NewLogSender(l), nil
	}
	s, err := NewPostmarkClient(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostmarkSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	msg := postmark.Email{
		From:     s.from,
		ReplyTo:  s.reply,
		To:       params.SendTo,
		Subject:  params.Subject,
		Tag:      params.Tag,
		HTMLBody: params.BodyHTML,
	}
	resp, err := s.api.SendEmail(ctx, msg)
	switch {
	case err != nil:
		return errors.Join(ErrFailedToSendEmail, err)
	case resp.ErrorCode != 0:
		return fmt.Errorf("%w: postmark code %d: %s", ErrFailedToSendEmail, resp.ErrorCode, resp.Message)
	}
	return nil
}
