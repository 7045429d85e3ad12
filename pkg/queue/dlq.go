package queue

import (
	"context"

	"github.com/google/uuid"
)

// DLQRepository gives operators access to tasks that exhausted their attempts.
type DLQRepository interface {
	// ListDLQ returns dead letter entries, oldest first. An empty queue lists all queues.
	ListDLQ(ctx context.Context, queue string, limit int) ([]TasksDlq, error)

	// RequeueFromDLQ removes the entry and enqueues a fresh task with the same payload.
	RequeueFromDLQ(ctx context.Context, dlqID uuid.UUID, maxAttempts int8) (*Task, error)
}
