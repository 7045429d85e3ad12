// Package queue provides a repository-agnostic task queue with bounded
// retries and a dead letter queue.
//
// The package is organised around two components:
//
//   - Enqueuer: adds tasks to the queue, optionally delayed or with a fixed id.
//   - Worker: claims pending tasks and dispatches them to a registered Handler.
//
// Both interact with persistence only through small repository interfaces, so
// the queue can run on MemoryStorage in tests and PostgresStorage in
// production without code changes.
//
// # Retries
//
// Every task carries an attempt budget (MaxAttempts, default 3). A claim
// increments Attempts. When a handler fails and attempts remain, the worker
// reschedules the task after RetryPolicy.Delay, which grows exponentially
// (1s, 2s, 4s with DefaultRetryPolicy). When the budget is spent the task is
// moved to the dead letter queue, where DLQRepository lets an operator list
// or requeue it.
//
// Completed tasks keep the handler's JSON result for audit and are purged by
// the worker once they are older than the configured retention.
//
// # Usage
//
//	storage := queue.NewPostgresStorage(pool)
//
//	enq, _ := queue.NewEnqueuer(storage)
//	_, err := enq.Enqueue(ctx, SendEmail{UserID: 42}, queue.WithMaxAttempts(5))
//
//	w, _ := queue.NewWorker(storage, queue.WithMaxConcurrentTasks(4))
//	_ = w.RegisterHandler(queue.NewTaskHandler(func(ctx context.Context, p SendEmail) error {
//		info, _ := queue.TaskInfoFromContext(ctx)
//		slog.InfoContext(ctx, "sending", "attempt", info.Attempt)
//		return send(ctx, p)
//	}))
//
//	g.Go(w.Run(ctx))
//
// # Error Handling
//
// Package-level sentinel errors (ErrNoTaskToClaim, ErrTaskAlreadyExists,
// ErrHandlerNotFound and others) can be checked with errors.Is.
package queue
