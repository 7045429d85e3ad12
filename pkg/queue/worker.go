package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingcore/pkg/logger"
)

// WorkerRepository defines the interface for worker operations
type WorkerRepository interface {
	// ClaimTask atomically claims the next available task and increments its attempt counter
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)

	// CompleteTask marks task as completed and stores the handler result
	CompleteTask(ctx context.Context, taskID uuid.UUID, result json.RawMessage) error

	// FailTask records the error and returns the task to pending until retryAt
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string, retryAt time.Time) error

	// MoveToDLQ moves task to dead letter queue
	MoveToDLQ(ctx context.Context, taskID uuid.UUID, errorMsg string) error

	// PurgeCompleted deletes completed tasks processed before the given time
	PurgeCompleted(ctx context.Context, before time.Time) (int64, error)
}

// Worker claims tasks from the configured queues and runs them through the
// registered handlers, at most maxConcurrentTasks at a time. Failed tasks are
// rescheduled by the retry policy until their attempts run out, then parked in
// the dead letter queue.
type Worker struct {
	repo     WorkerRepository
	workerID uuid.UUID
	queues   []string
	slots    chan struct{}

	mu       sync.RWMutex
	handlers map[string]Handler
	cancel   context.CancelFunc

	// gate orders inflight.Add against Stop's Wait.
	gate     sync.Mutex
	stopping atomic.Bool
	inflight sync.WaitGroup

	pullInterval       time.Duration
	lockTimeout        time.Duration
	retryPolicy        RetryPolicy
	completedRetention time.Duration
	purgeInterval      time.Duration
	now                func() time.Time
	log                *slog.Logger
}

// NewWorker creates a worker on top of repo.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	o := &workerOptions{
		queues:             []string{DefaultQueueName},
		pullInterval:       500 * time.Millisecond,
		lockTimeout:        5 * time.Minute,
		maxConcurrentTasks: 1,
		retryPolicy:        DefaultRetryPolicy(),
		completedRetention: 24 * time.Hour,
		purgeInterval:      10 * time.Minute,
		now:                time.Now,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	id := uuid.New()
	return &Worker{
		repo:               repo,
		workerID:           id,
		queues:             o.queues,
		slots:              make(chan struct{}, o.maxConcurrentTasks),
		handlers:           make(map[string]Handler),
		pullInterval:       o.pullInterval,
		lockTimeout:        o.lockTimeout,
		retryPolicy:        o.retryPolicy,
		completedRetention: o.completedRetention,
		purgeInterval:      o.purgeInterval,
		now:                o.now,
		log:                o.logger.With(logger.Component("queue.worker"), slog.String("worker_id", id.String())),
	}, nil
}

// RegisterHandler registers h under its task name, replacing any previous
// handler for the same name. A nil handler is ignored.
func (w *Worker) RegisterHandler(h Handler) error {
	if h == nil {
		return nil
	}
	w.mu.Lock()
	w.handlers[h.Name()] = h
	w.mu.Unlock()
	return nil
}

func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := w.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the polling loop in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.cancel != nil:
		return ErrWorkerAlreadyStarted
	case len(w.handlers) == 0:
		return ErrNoHandlers
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopping.Store(false)
	go w.loop(loopCtx)

	w.log.InfoContext(ctx, "worker started",
		slog.Any("queues", w.queues),
		slog.Int("max_concurrent", cap(w.slots)))
	return nil
}

// Stop cancels the polling loop and blocks until in-flight tasks finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return ErrWorkerNotStarted
	}

	w.gate.Lock()
	w.stopping.Store(true)
	w.gate.Unlock()
	cancel()

	w.log.Info("worker draining in-flight tasks")
	w.inflight.Wait()
	w.log.Info("worker stopped")
	return nil
}

// Run returns a function for errgroup that starts the worker and stops it
// once ctx is done.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

// ProcessNext claims and runs at most one task in the caller's goroutine.
// It returns ErrNoTaskToClaim when nothing is ready.
func (w *Worker) ProcessNext(ctx context.Context) error {
	task, err := w.repo.ClaimTask(ctx, w.workerID, w.queues, w.lockTimeout)
	switch {
	case err != nil:
		return err
	case task == nil:
		return ErrNoTaskToClaim
	}
	return w.execute(ctx, task)
}

// PurgeCompleted removes completed tasks older than the retention window.
func (w *Worker) PurgeCompleted(ctx context.Context) (int64, error) {
	if w.completedRetention <= 0 {
		return 0, nil
	}
	return w.repo.PurgeCompleted(ctx, w.now().Add(-w.completedRetention))
}

func (w *Worker) loop(ctx context.Context) {
	poll := time.NewTicker(w.pullInterval)
	defer poll.Stop()
	purge := time.NewTicker(w.purgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-purge.C:
			w.purge(ctx)
		case <-poll.C:
			if !w.dispatch(ctx) {
				return
			}
		}
	}
}

func (w *Worker) purge(ctx context.Context) {
	n, err := w.PurgeCompleted(ctx)
	switch {
	case err != nil:
		w.log.ErrorContext(ctx, "failed to purge completed tasks", logger.Error(err))
	case n > 0:
		w.log.DebugContext(ctx, "purged completed tasks", slog.Int64("count", n))
	}
}

// dispatch takes a free slot and processes one task in a goroutine. It
// returns false once the worker is stopping.
func (w *Worker) dispatch(ctx context.Context) bool {
	select {
	case w.slots <- struct{}{}:
	default:
		w.log.DebugContext(ctx, "all worker slots busy, skipping tick")
		return true
	}

	w.gate.Lock()
	if w.stopping.Load() {
		w.gate.Unlock()
		<-w.slots
		return false
	}
	w.inflight.Add(1)
	w.gate.Unlock()

	go func() {
		defer w.inflight.Done()
		defer func() { <-w.slots }()

		err := w.ProcessNext(ctx)
		if err == nil || errors.Is(err, ErrNoTaskToClaim) || errors.Is(err, ErrHandlerNotFound) || errors.Is(err, context.Canceled) {
			return
		}
		w.log.ErrorContext(ctx, "failed to process task", logger.Error(err))
	}()
	return true
}

func (w *Worker) execute(ctx context.Context, task *Task) (err error) {
	log := w.log.With(logger.TaskID(task.ID.String()), slog.String("task_name", task.TaskName))
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "handler panicked", slog.Any("panic", r))
			err = w.fail(ctx, log, task, fmt.Errorf("panic in handler: %v", r), time.Since(started))
		}
	}()

	w.mu.RLock()
	h, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()
	if !ok {
		return w.deadLetterUnhandled(ctx, log, task)
	}

	// Detached from the worker so shutdown lets the task finish within its lock.
	hctx, cancel := context.WithTimeout(withTaskInfo(context.WithoutCancel(ctx), task), w.lockTimeout)
	defer cancel()

	result, herr := h.Handle(hctx, task.Payload)
	if herr != nil {
		return w.fail(ctx, log, task, herr, time.Since(started))
	}

	if err := w.repo.CompleteTask(context.WithoutCancel(ctx), task.ID, result); err != nil {
		return fmt.Errorf("failed to mark task %s as completed: %w", task.ID, err)
	}
	log.InfoContext(ctx, "task completed",
		logger.Queue(task.Queue),
		logger.Attempt(int(task.Attempts)),
		logger.Duration(time.Since(started)))
	return nil
}

// deadLetterUnhandled parks a task nobody can run; retries cannot help until
// a handler for it is deployed.
func (w *Worker) deadLetterUnhandled(ctx context.Context, log *slog.Logger, task *Task) error {
	log.ErrorContext(ctx, "no handler registered for task type")
	if err := w.repo.MoveToDLQ(context.WithoutCancel(ctx), task.ID, "no handler registered for task type: "+task.TaskName); err != nil {
		return fmt.Errorf("failed to move task %s to DLQ: %w", task.ID, err)
	}
	return ErrHandlerNotFound
}

// fail reschedules the task with the retry policy delay, or moves it to the
// DLQ once the attempt budget is spent.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, task *Task, cause error, took time.Duration) error {
	ctx = context.WithoutCancel(ctx)
	log = log.With(logger.Attempt(int(task.Attempts)), slog.Int("max_attempts", int(task.MaxAttempts)))
	log.ErrorContext(ctx, "task failed", logger.Duration(took), logger.Error(cause))

	if task.Exhausted() {
		if err := w.repo.MoveToDLQ(ctx, task.ID, cause.Error()); err != nil {
			return fmt.Errorf("failed to move task %s to DLQ after %d attempts: %w", task.ID, task.Attempts, err)
		}
		log.WarnContext(ctx, "task moved to dead letter queue")
		return nil
	}

	retryAt := w.now().Add(w.retryPolicy.Delay(task.Attempts))
	if err := w.repo.FailTask(ctx, task.ID, cause.Error(), retryAt); err != nil {
		return fmt.Errorf("failed to reschedule task %s: %w", task.ID, err)
	}
	return nil
}

// WorkerInfo identifies the worker process.
func (w *Worker) WorkerInfo() (id string, hostname string, pid int) {
	hostname, _ = os.Hostname()
	return w.workerID.String(), hostname, os.Getpid()
}
