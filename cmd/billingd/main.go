// Command billingd receives billing gateway webhooks and reconciles them into
// subscription state through a durable Postgres-backed queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billingcore/migrations"
	"github.com/dmitrymomot/billingcore/pkg/circuitbreaker"
	"github.com/dmitrymomot/billingcore/pkg/config"
	"github.com/dmitrymomot/billingcore/pkg/email"
	"github.com/dmitrymomot/billingcore/pkg/eventbus"
	"github.com/dmitrymomot/billingcore/pkg/httpserver"
	"github.com/dmitrymomot/billingcore/pkg/logger"
	"github.com/dmitrymomot/billingcore/pkg/pg"
	"github.com/dmitrymomot/billingcore/pkg/queue"
	"github.com/dmitrymomot/billingcore/pkg/redis"
	"github.com/dmitrymomot/billingcore/svc/dunning"
	"github.com/dmitrymomot/billingcore/svc/subscription"
	"github.com/dmitrymomot/billingcore/svc/subscription/pgstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("billingd stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logOverrides, err := logger.WithConfig(cfg.Log)
	if err != nil {
		return err
	}
	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.ServiceName),
		logOverrides,
		logger.WithContextExtractors(logger.CorrelationIDExtractor()),
	)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, migrations.FS, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	breakers := circuitbreaker.NewRegistry(append(cfg.Breaker.Options(),
		circuitbreaker.WithFailurePredicate(subscription.GatewayFailurePredicate),
		circuitbreaker.WithStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		}),
	)...)

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	gateway := subscription.NewGuardedGateway(provider, breakers.Get("gateway."+provider.Name()))

	bus := eventbus.New(
		eventbus.WithLogger(log),
		eventbus.WithBufferSize(cfg.EventBuffer),
	)
	defer func() { _ = bus.Close() }()

	store := pgstore.New(pool)
	catalog := pgstore.NewCatalog(pool)
	if cfg.PlansFile != "" {
		if err := seedPlans(ctx, catalog, cfg.PlansFile, log); err != nil {
			return err
		}
	}
	idem := subscription.NewRedisIdempotencyCache(
		redis.NewMarkerSet(rdb, "billing:webhook:", cfg.IdempotencyTTL),
		store,
		subscription.WithLogger(log),
	)

	opts := []subscription.Option{
		subscription.WithLogger(log),
		subscription.WithEmitter(bus),
	}
	reconciler := subscription.NewReconciliationService(store, idem, opts...)

	sender, err := email.NewSender(cfg.Email, log)
	if err != nil {
		return err
	}
	notifier := dunning.NewNotifier(catalog, sender, dunning.WithLogger(log))
	defer notifier.Subscribe(bus)()
	defer subscribeAuditLog(bus, log)()

	queueStorage := queue.NewPostgresStorage(pool)
	enqueuer, err := queue.NewEnqueuer(queueStorage,
		queue.WithDefaultQueue(subscription.ReconcileQueue),
		queue.WithDefaultMaxAttempts(cfg.Queue.MaxAttempts),
	)
	if err != nil {
		return err
	}
	worker, err := queue.NewWorker(queueStorage,
		queue.WithQueues(subscription.ReconcileQueue),
		queue.WithPullInterval(cfg.Queue.PollInterval),
		queue.WithLockTimeout(cfg.Queue.LockTimeout),
		queue.WithMaxConcurrentTasks(cfg.Queue.MaxConcurrentTasks),
		queue.WithRetryPolicy(cfg.Queue.RetryPolicy()),
		queue.WithCompletedRetention(cfg.Queue.CompletedRetention),
		queue.WithPurgeInterval(cfg.Queue.PurgeInterval),
		queue.WithWorkerLogger(log),
	)
	if err != nil {
		return err
	}
	if err := worker.RegisterHandler(subscription.NewReconcileJobHandler(reconciler, gateway)); err != nil {
		return err
	}

	handler := routes{
		log:      log,
		provider: provider.Name(),
		webhook:  subscription.NewWebhookHandler(provider.Name(), provider, gateway, enqueuer, opts...),
		checks: []httpserver.Check{
			{Name: "postgres", Fn: pg.Healthcheck(pool)},
			{Name: "redis", Fn: redis.Healthcheck(rdb)},
		},
		dlq:         queueStorage,
		maxAttempts: cfg.Queue.MaxAttempts,
		breakers:    breakers,
		worker:      worker,
		adminToken:  cfg.AdminToken,
	}.handler()

	server := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(worker.Run(ctx))
	g.Go(func() error { return server.Run(ctx, handler) })

	log.InfoContext(ctx, "billingd started",
		logger.Provider(provider.Name()),
		slog.String("addr", cfg.HTTP.Addr))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("billingd stopped")
	return nil
}

type planWriter interface {
	UpsertPlan(ctx context.Context, p subscription.Plan) error
}

// seedPlans upserts every plan defined in path.
func seedPlans(ctx context.Context, w planWriter, path string, log *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open plans file: %w", err)
	}
	defer f.Close()

	plans, err := subscription.LoadPlans(f)
	if err != nil {
		return err
	}
	for _, p := range plans {
		if err := w.UpsertPlan(ctx, p); err != nil {
			return err
		}
	}
	log.InfoContext(ctx, "plans seeded", slog.Int("count", len(plans)), slog.String("file", path))
	return nil
}

func newProvider(cfg appConfig) (subscription.Provider, error) {
	switch cfg.Provider {
	case subscription.ProviderStripe:
		return subscription.NewStripeGateway(cfg.Stripe)
	default:
		return subscription.NewPaddleGateway(cfg.Paddle)
	}
}

// subscribeAuditLog writes every subscription event to the log.
func subscribeAuditLog(bus *eventbus.Bus, log *slog.Logger) (unsubscribe func()) {
	names := []string{
		subscription.EventCreated,
		subscription.EventActivated,
		subscription.EventCancelled,
		subscription.EventGraceStarted,
		subscription.EventGracePeriodUpdated,
		subscription.EventDelinquent,
	}
	unsubs := make([]func(), 0, len(names))
	for _, name := range names {
		unsubs = append(unsubs, bus.Subscribe(name, func(ctx context.Context, e eventbus.Event) {
			p, ok := e.Payload.(subscription.EventPayload)
			if !ok {
				return
			}
			log.InfoContext(ctx, "subscription event",
				logger.Event(e.Name),
				logger.SubscriptionID(p.SubscriptionID.String()),
				logger.Transition(p.FromState, p.ToState))
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
