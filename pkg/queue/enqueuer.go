package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository persists new tasks. CreateTask returns
// ErrTaskAlreadyExists when the id is taken.
type EnqueuerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
}

// Enqueuer turns payloads into pending tasks.
type Enqueuer struct {
	repo     EnqueuerRepository
	defaults enqueueOptions
	now      func() time.Time
}

// NewEnqueuer creates an Enqueuer writing to repo.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	o := &enqueuerOptions{
		defaults: enqueueOptions{
			queue:       DefaultQueueName,
			priority:    PriorityDefault,
			maxAttempts: DefaultMaxAttempts,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Enqueuer{repo: repo, defaults: o.defaults, now: o.now}, nil
}

// Enqueue serialises payload to JSON and stores it as a pending task. The task
// name defaults to TaskNameOf(payload) so it matches the handler registered
// for the payload type.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	if payload == nil {
		return uuid.Nil, ErrPayloadNil
	}

	o := e.defaults
	for _, opt := range opts {
		opt(&o)
	}
	if !o.priority.Valid() {
		return uuid.Nil, ErrInvalidPriority
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}

	task := o.task(e.now())
	task.Payload = raw
	if task.TaskName == "" {
		task.TaskName = TaskNameOf(payload)
	}

	if err := e.repo.CreateTask(ctx, task); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create task %q in queue %q: %w", task.TaskName, task.Queue, err)
	}
	return task.ID, nil
}
