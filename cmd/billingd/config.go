package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/billingcore/pkg/circuitbreaker"
	"github.com/dmitrymomot/billingcore/pkg/email"
	"github.com/dmitrymomot/billingcore/pkg/httpserver"
	"github.com/dmitrymomot/billingcore/pkg/logger"
	"github.com/dmitrymomot/billingcore/pkg/pg"
	"github.com/dmitrymomot/billingcore/pkg/queue"
	"github.com/dmitrymomot/billingcore/pkg/redis"
	"github.com/dmitrymomot/billingcore/svc/subscription"
)

type appConfig struct {
	Env            string        `env:"APP_ENV" envDefault:"development"`
	ServiceName    string        `env:"SERVICE_NAME" envDefault:"billingd"`
	Provider       string        `env:"BILLING_PROVIDER" envDefault:"paddle"`
	AdminToken     string        `env:"ADMIN_TOKEN"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_CACHE_TTL" envDefault:"72h"`
	EventBuffer    int           `env:"EVENT_BUFFER_SIZE" envDefault:"256"`
	PlansFile      string        `env:"PLANS_FILE"`

	Log     logger.Config
	HTTP    httpserver.Config
	PG      pg.Config
	Redis   redis.Config
	Queue   queue.Config
	Breaker circuitbreaker.Config `envPrefix:"GATEWAY_"`
	Paddle  subscription.PaddleConfig
	Stripe  subscription.StripeConfig
	Email   email.Config
}

var errUnknownProvider = errors.New("unknown billing provider")

func (c *appConfig) Validate() error {
	switch c.Provider {
	case subscription.ProviderPaddle, subscription.ProviderStripe:
	default:
		return fmt.Errorf("%w: %q", errUnknownProvider, c.Provider)
	}
	if c.Queue.MaxAttempts < 1 {
		return errors.New("QUEUE_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}
