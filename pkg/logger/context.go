package logger

import (
	"context"
	"log/slog"
)

type correlationKey struct{}

// WithCorrelationID stores a correlation id on the context so every log line
// written with it carries the same "correlation_id" attribute.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the correlation id, or "" when none is set.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// CorrelationIDExtractor is a ContextExtractor for ids stored with WithCorrelationID.
func CorrelationIDExtractor() ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		id := CorrelationIDFromContext(ctx)
		if id == "" {
			return slog.Attr{}, false
		}
		return CorrelationID(id), true
	}
}
