package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingcore/pkg/queue"
)

type mockEnqueuerRepo struct {
	createFunc func(ctx context.Context, task *queue.Task) error
	tasks      []*queue.Task
}

func (m *mockEnqueuerRepo) CreateTask(ctx context.Context, task *queue.Task) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, task)
	}
	m.tasks = append(m.tasks, task)
	return nil
}

type enqueueTestPayload struct {
	Message string `json:"message"`
}

type unmarshalablePayload struct {
	Ch chan int
}

func TestEnqueuer_NewEnqueuer(t *testing.T) {
	t.Parallel()

	t.Run("successful creation", func(t *testing.T) {
		t.Parallel()

		enqueuer, err := queue.NewEnqueuer(&mockEnqueuerRepo{})
		require.NoError(t, err)
		require.NotNil(t, enqueuer)
	})

	t.Run("nil repository error", func(t *testing.T) {
		t.Parallel()

		enqueuer, err := queue.NewEnqueuer(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
		assert.Nil(t, enqueuer)
	})
}

func TestEnqueuer_Enqueue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("applies defaults", func(t *testing.T) {
		t.Parallel()

		repo := &mockEnqueuerRepo{}
		enqueuer, err := queue.NewEnqueuer(repo, queue.WithEnqueuerClock(clock))
		require.NoError(t, err)

		id, err := enqueuer.Enqueue(context.Background(), enqueueTestPayload{Message: "hello"})
		require.NoError(t, err)
		require.Len(t, repo.tasks, 1)

		task := repo.tasks[0]
		assert.Equal(t, id, task.ID)
		assert.Equal(t, queue.DefaultQueueName, task.Queue)
		assert.Equal(t, "queue_test.enqueueTestPayload", task.TaskName)
		assert.Equal(t, queue.TaskStatusPending, task.Status)
		assert.Equal(t, queue.PriorityDefault, task.Priority)
		assert.Equal(t, queue.DefaultMaxAttempts, task.MaxAttempts)
		assert.Zero(t, task.Attempts)
		assert.Equal(t, now, task.ScheduledAt)
		assert.JSONEq(t, `{"message":"hello"}`, string(task.Payload))
	})

	t.Run("applies options", func(t *testing.T) {
		t.Parallel()

		repo := &mockEnqueuerRepo{}
		enqueuer, err := queue.NewEnqueuer(repo, queue.WithEnqueuerClock(clock), queue.WithDefaultQueue("webhooks"))
		require.NoError(t, err)

		fixed := uuid.New()
		_, err = enqueuer.Enqueue(context.Background(), enqueueTestPayload{},
			queue.WithPriority(queue.PriorityHigh),
			queue.WithMaxAttempts(5),
			queue.WithDelay(time.Minute),
			queue.WithTaskName("custom"),
			queue.WithTaskID(fixed),
		)
		require.NoError(t, err)

		task := repo.tasks[0]
		assert.Equal(t, fixed, task.ID)
		assert.Equal(t, "webhooks", task.Queue)
		assert.Equal(t, "custom", task.TaskName)
		assert.Equal(t, queue.PriorityHigh, task.Priority)
		assert.Equal(t, int8(5), task.MaxAttempts)
		assert.Equal(t, now.Add(time.Minute), task.ScheduledAt)
	})

	t.Run("out of range max attempts is ignored", func(t *testing.T) {
		t.Parallel()

		repo := &mockEnqueuerRepo{}
		enqueuer, err := queue.NewEnqueuer(repo)
		require.NoError(t, err)

		_, err = enqueuer.Enqueue(context.Background(), enqueueTestPayload{}, queue.WithMaxAttempts(0))
		require.NoError(t, err)
		assert.Equal(t, queue.DefaultMaxAttempts, repo.tasks[0].MaxAttempts)
	})

	t.Run("nil payload", func(t *testing.T) {
		t.Parallel()

		enqueuer, err := queue.NewEnqueuer(&mockEnqueuerRepo{})
		require.NoError(t, err)

		_, err = enqueuer.Enqueue(context.Background(), nil)
		assert.ErrorIs(t, err, queue.ErrPayloadNil)
	})

	t.Run("invalid priority", func(t *testing.T) {
		t.Parallel()

		enqueuer, err := queue.NewEnqueuer(&mockEnqueuerRepo{})
		require.NoError(t, err)

		_, err = enqueuer.Enqueue(context.Background(), enqueueTestPayload{}, queue.WithPriority(queue.Priority(101)))
		assert.ErrorIs(t, err, queue.ErrInvalidPriority)
	})

	t.Run("unmarshalable payload", func(t *testing.T) {
		t.Parallel()

		enqueuer, err := queue.NewEnqueuer(&mockEnqueuerRepo{})
		require.NoError(t, err)

		_, err = enqueuer.Enqueue(context.Background(), unmarshalablePayload{Ch: make(chan int)})
		assert.Error(t, err)
	})

	t.Run("repository error is wrapped", func(t *testing.T) {
		t.Parallel()

		repoErr := errors.New("db down")
		enqueuer, err := queue.NewEnqueuer(&mockEnqueuerRepo{
			createFunc: func(ctx context.Context, task *queue.Task) error { return repoErr },
		})
		require.NoError(t, err)

		_, err = enqueuer.Enqueue(context.Background(), enqueueTestPayload{})
		assert.ErrorIs(t, err, repoErr)
	})
}
