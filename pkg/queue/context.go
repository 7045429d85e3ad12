package queue

import (
	"context"

	"github.com/google/uuid"
)

// TaskInfo describes the task a handler is currently running.
type TaskInfo struct {
	ID          uuid.UUID
	Queue       string
	TaskName    string
	Attempt     int8
	MaxAttempts int8
}

type taskInfoKey struct{}

func withTaskInfo(ctx context.Context, task *Task) context.Context {
	return context.WithValue(ctx, taskInfoKey{}, TaskInfo{
		ID:          task.ID,
		Queue:       task.Queue,
		TaskName:    task.TaskName,
		Attempt:     task.Attempts,
		MaxAttempts: task.MaxAttempts,
	})
}

// TaskInfoFromContext returns the running task's info. The second value is
// false outside a worker.
func TaskInfoFromContext(ctx context.Context) (TaskInfo, bool) {
	info, ok := ctx.Value(taskInfoKey{}).(TaskInfo)
	return info, ok
}
