package subscription

import (
	"context"
	"log/slog"
	"time"
)

// EventEmitter publishes committed domain events. *eventbus.Bus satisfies it.
type EventEmitter interface {
	Emit(ctx context.Context, name string, payload any)
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, string, any) {}

type options struct {
	logger  *slog.Logger
	emitter EventEmitter
	now     func() time.Time
}

// Option configures the engines and services of this package.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEmitter sets where committed events are published.
func WithEmitter(e EventEmitter) Option {
	return func(o *options) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		emitter: noopEmitter{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
