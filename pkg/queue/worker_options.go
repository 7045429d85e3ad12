package queue

import (
	"log/slog"
	"time"
)

// WorkerOption is a functional option for configuring a worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	queues             []string
	pullInterval       time.Duration
	lockTimeout        time.Duration
	maxConcurrentTasks int
	retryPolicy        RetryPolicy
	completedRetention time.Duration
	purgeInterval      time.Duration
	now                func() time.Time
	logger             *slog.Logger
}

// WithQueues sets which queues the worker should pull from
func WithQueues(queues ...string) WorkerOption {
	return func(o *workerOptions) {
		if len(queues) > 0 {
			o.queues = queues
		}
	}
}

// WithPullInterval sets how often the worker checks for new tasks
func WithPullInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pullInterval = d
		}
	}
}

// WithLockTimeout sets the lock duration for tasks
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// WithMaxConcurrentTasks sets the maximum number of concurrent tasks
func WithMaxConcurrentTasks(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.maxConcurrentTasks = n
		}
	}
}

// WithRetryPolicy sets the delay schedule between attempts
func WithRetryPolicy(p RetryPolicy) WorkerOption {
	return func(o *workerOptions) {
		o.retryPolicy = p
	}
}

// WithCompletedRetention sets how long completed tasks are kept before purge.
// Zero disables purging.
func WithCompletedRetention(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d >= 0 {
			o.completedRetention = d
		}
	}
}

// WithPurgeInterval sets how often completed tasks are purged
func WithPurgeInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.purgeInterval = d
		}
	}
}

// WithWorkerClock overrides the time source used for retry scheduling
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(o *workerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithWorkerLogger sets the logger for the worker
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
