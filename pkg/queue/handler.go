package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

type (
	// Handler executes tasks of one name. The returned result is stored on
	// the completed task for audit; it may be nil.
	Handler interface {
		Name() string
		Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
	}

	TaskHandlerFunc[T any]          func(ctx context.Context, payload T) error
	ResultTaskHandlerFunc[T, R any] func(ctx context.Context, payload T) (R, error)
)

// NewTaskHandler wraps a typed function. The task name is the qualified
// payload type name, matching what Enqueuer uses by default.
func NewTaskHandler[T any](handler TaskHandlerFunc[T]) Handler {
	return NewResultTaskHandler(func(ctx context.Context, payload T) (any, error) {
		return nil, handler(ctx, payload)
	})
}

// NewResultTaskHandler wraps a typed function whose result is kept on the task.
func NewResultTaskHandler[T, R any](handler ResultTaskHandlerFunc[T, R]) Handler {
	var payload T
	return &taskHandler[T, R]{
		name:    TaskNameOf(payload),
		handler: handler,
	}
}

type taskHandler[T, R any] struct {
	name    string
	handler ResultTaskHandlerFunc[T, R]
}

func (h *taskHandler[T, R]) Name() string {
	return h.name
}

func (h *taskHandler[T, R]) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", h.name, err)
	}

	result, err := h.handler(ctx, t)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", h.name, err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

// TaskNameOf returns the default task name for a payload: its package
// qualified type name with pointers stripped, e.g. "subscription.ReconcileJob".
func TaskNameOf(payload any) string {
	t := reflect.TypeOf(payload)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}
