// Package httpserver wraps net/http with functional options, graceful
// shutdown and JSON health checks.
//
// Run blocks until its context is cancelled (wire it to
// signal.NotifyContext) or Shutdown is called, then drains in-flight requests
// within the configured shutdown timeout. Listen failures are wrapped with
// ErrStart and shutdown failures with ErrShutdown.
//
//	r := chi.NewRouter()
//	r.Get("/livez", httpserver.HealthCheckHandler(log))
//	r.Get("/readyz", httpserver.HealthCheckHandler(log,
//		httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
//		httpserver.Check{Name: "redis", Fn: redis.Healthcheck(rdb)},
//	))
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, r); err != nil {
//		log.Error("http server", logger.Error(err))
//	}
package httpserver
