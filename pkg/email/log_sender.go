package email

import (
	"context"
	"log/slog"
)

type logSender struct {
	logger *slog.Logger
}

// NewLogSender returns a sender that logs messages instead of delivering them.
func NewLogSender(l *slog.Logger) EmailSender {
	if l == nil {
		l = slog.Default()
	}
	return &logSender{logger: l.With(slog.String("component", "email"))}
}

func (s *logSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "email not delivered, log sender in use",
		slog.String("to", params.SendTo),
		slog.String("subject", params.Subject),
		slog.String("tag", params.Tag),
		slog.Int("body_bytes", len(params.BodyHTML)))
	return nil
}
