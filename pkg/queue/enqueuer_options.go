package queue

import (
	"time"

	"github.com/google/uuid"
)

const maxAttemptsCeiling = 10

func validAttempts(n int8) bool { return n >= 1 && n <= maxAttemptsCeiling }

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	defaults enqueueOptions
	now      func() time.Time
}

// WithDefaultQueue sets the queue used when Enqueue gets no WithQueue.
func WithDefaultQueue(queue string) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if queue != "" {
			o.defaults.queue = queue
		}
	}
}

func WithDefaultPriority(priority Priority) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if priority.Valid() {
			o.defaults.priority = priority
		}
	}
}

// WithDefaultMaxAttempts sets the attempt budget for tasks enqueued without
// WithMaxAttempts. Values outside 1..10 are ignored.
func WithDefaultMaxAttempts(n int8) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if validAttempts(n) {
			o.defaults.maxAttempts = n
		}
	}
}

func WithEnqueuerClock(now func() time.Time) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// EnqueueOption adjusts a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	queue       string
	priority    Priority
	maxAttempts int8
	delay       time.Duration
	scheduledAt *time.Time
	taskName    string
	taskID      uuid.UUID
}

// task builds the pending task these options describe, without payload.
func (o enqueueOptions) task(now time.Time) *Task {
	runAt := now.Add(o.delay)
	if o.scheduledAt != nil {
		runAt = *o.scheduledAt
	}
	id := o.taskID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Task{
		ID:          id,
		Queue:       o.queue,
		TaskName:    o.taskName,
		Status:      TaskStatusPending,
		Priority:    o.priority,
		MaxAttempts: o.maxAttempts,
		ScheduledAt: runAt,
		CreatedAt:   now,
	}
}

func WithQueue(queue string) EnqueueOption {
	return func(o *enqueueOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithPriority sets the task priority. Enqueue rejects values outside the
// valid range with ErrInvalidPriority.
func WithPriority(priority Priority) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = priority }
}

// WithMaxAttempts sets the total number of attempts, first one included.
// Values outside 1..10 are ignored.
func WithMaxAttempts(n int8) EnqueueOption {
	return func(o *enqueueOptions) {
		if validAttempts(n) {
			o.maxAttempts = n
		}
	}
}

// WithDelay postpones the task. WithScheduledAt wins when both are given.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

func WithScheduledAt(at time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.scheduledAt = &at }
}

// WithTaskName overrides the name derived from the payload type.
func WithTaskName(name string) EnqueueOption {
	return func(o *enqueueOptions) {
		if name != "" {
			o.taskName = name
		}
	}
}

// WithTaskID fixes the task id. Storages reject a second task with the same
// id, which lets callers derive ids from upstream identifiers.
func WithTaskID(id uuid.UUID) EnqueueOption {
	return func(o *enqueueOptions) { o.taskID = id }
}
