// Package logger builds *slog.Logger values for the billing services and
// keeps attribute names consistent across them.
//
// New picks slog.NewJSONHandler or slog.NewTextHandler. When context
// extractors are registered the handler is wrapped so each record also
// carries attributes pulled from its context, such as the correlation id set
// with WithCorrelationID.
//
//	opt, err := logger.WithConfig(cfg.Log) // LOG_LEVEL, LOG_FORMAT
//	if err != nil {
//		return err
//	}
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "billingd"),
//		opt,
//		logger.WithContextExtractors(logger.CorrelationIDExtractor()),
//	)
//
//	ctx = logger.WithCorrelationID(ctx, job.CorrelationID)
//	log.InfoContext(ctx, "subscription activated",
//		logger.SubscriptionID(sub.ID),
//		logger.Transition(from, to),
//	)
//
// Error and Errors return an empty attribute for nil errors, so
// log.Info("done", logger.Error(err)) needs no nil check.
package logger
