package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage implements the queue repositories on top of the
// queue_tasks and queue_tasks_dlq tables. Claims use FOR UPDATE SKIP LOCKED so
// any number of workers can poll the same table.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a storage backed by the given pool
func NewPostgresStorage(pool *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{pool: pool}
}

const taskColumns = `id, queue, task_name, payload, status, priority, attempts, max_attempts,
	scheduled_at, locked_until, locked_by, processed_at, error, result, created_at`

// CreateTask implements EnqueuerRepository
func (s *PostgresStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_tasks (id, queue, task_name, payload, status, priority, attempts, max_attempts, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID, task.Queue, task.TaskName, task.Payload, task.Status, task.Priority,
		task.Attempts, task.MaxAttempts, task.ScheduledAt, task.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrTaskAlreadyExists
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// ClaimTask implements WorkerRepository. Tasks whose lock expired while
// processing are claimable again.
func (s *PostgresStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_tasks SET
			status = 'processing',
			attempts = attempts + 1,
			locked_until = now() + $3::bigint * interval '1 millisecond',
			locked_by = $2
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE queue = ANY($1)
				AND scheduled_at <= now()
				AND (status = 'pending' OR (status = 'processing' AND locked_until < now()))
			ORDER BY priority DESC, scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+taskColumns,
		queues, workerID, lockDuration.Milliseconds(),
	)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoTaskToClaim
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	return task, nil
}

// CompleteTask implements WorkerRepository
func (s *PostgresStorage) CompleteTask(ctx context.Context, taskID uuid.UUID, result json.RawMessage) error {
	var res any
	if len(result) > 0 {
		res = result
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_tasks SET status = 'completed', processed_at = now(),
			locked_until = NULL, locked_by = NULL, result = $2
		WHERE id = $1 AND status = 'processing'`,
		taskID, res,
	)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotProcessing
	}
	return nil
}

// FailTask implements WorkerRepository
func (s *PostgresStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string, retryAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_tasks SET status = 'pending', error = $2, scheduled_at = $3,
			locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND status = 'processing'`,
		taskID, errorMsg, retryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotProcessing
	}
	return nil
}

// MoveToDLQ implements WorkerRepository
func (s *PostgresStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO queue_tasks_dlq (id, task_id, queue, task_name, payload, priority, error, attempts, failed_at, created_at)
			SELECT $2, id, queue, task_name, payload, priority, $3, attempts, now(), now()
			FROM queue_tasks WHERE id = $1`,
			taskID, uuid.New(), errorMsg,
		)
		if err != nil {
			return fmt.Errorf("failed to insert dead letter entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrTaskNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM queue_tasks WHERE id = $1`, taskID); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		return nil
	})
}

// PurgeCompleted implements WorkerRepository
func (s *PostgresStorage) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM queue_tasks WHERE status = 'completed' AND processed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListDLQ implements DLQRepository
func (s *PostgresStorage) ListDLQ(ctx context.Context, queue string, limit int) ([]TasksDlq, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, queue, task_name, payload, priority, error, attempts, failed_at, created_at
		FROM queue_tasks_dlq
		WHERE $1 = '' OR queue = $1
		ORDER BY failed_at
		LIMIT $2`,
		queue, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TasksDlq, error) {
		var e TasksDlq
		err := row.Scan(&e.ID, &e.TaskID, &e.Queue, &e.TaskName, &e.Payload, &e.Priority,
			&e.Error, &e.Attempts, &e.FailedAt, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan dead letter entries: %w", err)
	}
	return entries, nil
}

// RequeueFromDLQ implements DLQRepository
func (s *PostgresStorage) RequeueFromDLQ(ctx context.Context, dlqID uuid.UUID, maxAttempts int8) (*Task, error) {
	var task *Task
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			WITH entry AS (
				DELETE FROM queue_tasks_dlq WHERE id = $1
				RETURNING queue, task_name, payload, priority
			)
			INSERT INTO queue_tasks (id, queue, task_name, payload, status, priority, attempts, max_attempts, scheduled_at, created_at)
			SELECT $2, queue, task_name, payload, 'pending', priority, 0, $3, now(), now() FROM entry
			RETURNING `+taskColumns,
			dlqID, uuid.New(), maxAttempts,
		)

		var err error
		task, err = scanTask(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDLQEntryNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var result []byte
	err := row.Scan(
		&t.ID, &t.Queue, &t.TaskName, &t.Payload, &t.Status, &t.Priority, &t.Attempts, &t.MaxAttempts,
		&t.ScheduledAt, &t.LockedUntil, &t.LockedBy, &t.ProcessedAt, &t.Error, &result, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(result) > 0 {
		t.Result = result
	}
	return &t, nil
}
