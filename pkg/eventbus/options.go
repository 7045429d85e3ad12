package eventbus

import (
	"log/slog"
	"time"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 256

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber buffer. Values below 1 are raised to 1.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		b.bufferSize = max(n, 1)
	}
}

// WithLogger sets the logger used for dropped events and handler panics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides the time source used for Event.OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}
