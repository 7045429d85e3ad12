package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingcore/pkg/circuitbreaker"
	"github.com/dmitrymomot/billingcore/pkg/httpserver"
	"github.com/dmitrymomot/billingcore/pkg/queue"
	"github.com/dmitrymomot/billingcore/svc/subscription"
)

type mockDLQ struct{ mock.Mock }

func (m *mockDLQ) ListDLQ(ctx context.Context, q string, limit int) ([]queue.TasksDlq, error) {
	args := m.Called(ctx, q, limit)
	entries, _ := args.Get(0).([]queue.TasksDlq)
	return entries, args.Error(1)
}

func (m *mockDLQ) RequeueFromDLQ(ctx context.Context, id uuid.UUID, maxAttempts int8) (*queue.Task, error) {
	args := m.Called(ctx, id, maxAttempts)
	task, _ := args.Get(0).(*queue.Task)
	return task, args.Error(1)
}

const testToken = "s3cret"

func newTestRoutes(t *testing.T, token string) (http.Handler, *mockDLQ, *circuitbreaker.Registry) {
	t.Helper()
	dlq := new(mockDLQ)
	t.Cleanup(func() { dlq.AssertExpectations(t) })

	breakers := circuitbreaker.NewRegistry()
	storage := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })
	worker, err := queue.NewWorker(storage, queue.WithWorkerLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	rt := routes{
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		provider: "paddle",
		webhook: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"received":true}`))
		}),
		checks: []httpserver.Check{
			{Name: "postgres", Fn: func(context.Context) error { return nil }},
		},
		dlq:         dlq,
		maxAttempts: 3,
		breakers:    breakers,
		worker:      worker,
		adminToken:  token,
	}
	return rt.handler(), dlq, breakers
}

func do(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader("{}"))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_Public(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestRoutes(t, testToken)

	t.Run("webhook mounted for the configured provider", func(t *testing.T) {
		t.Parallel()
		rec := do(h, http.MethodPost, "/webhooks/paddle", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	})

	t.Run("other providers are not routed", func(t *testing.T) {
		t.Parallel()
		rec := do(h, http.MethodPost, "/webhooks/stripe", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("health", func(t *testing.T) {
		t.Parallel()
		rec := do(h, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)

		rec = do(h, http.MethodGet, "/livez", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRoutes_Admin(t *testing.T) {
	t.Parallel()

	t.Run("unmounted without a token", func(t *testing.T) {
		t.Parallel()
		h, _, _ := newTestRoutes(t, "")
		rec := do(h, http.MethodGet, "/admin/dlq", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rejects a wrong token", func(t *testing.T) {
		t.Parallel()
		h, _, _ := newTestRoutes(t, testToken)
		assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/admin/dlq", "").Code)
		assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/admin/dlq", "nope").Code)
	})

	t.Run("lists dead letters", func(t *testing.T) {
		t.Parallel()
		h, dlq, _ := newTestRoutes(t, testToken)
		entry := queue.TasksDlq{
			ID:       uuid.New(),
			TaskID:   uuid.New(),
			Queue:    "reconcile",
			Error:    "gateway down",
			Attempts: 3,
			FailedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		}
		dlq.On("ListDLQ", mock.Anything, "reconcile", 10).Return([]queue.TasksDlq{entry}, nil).Once()

		rec := do(h, http.MethodGet, "/admin/dlq?queue=reconcile&limit=10", testToken)
		require.Equal(t, http.StatusOK, rec.Code)

		var got []queue.TasksDlq
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, entry.ID, got[0].ID)
		assert.Equal(t, "gateway down", got[0].Error)
	})

	t.Run("empty dead letter queue is an empty array", func(t *testing.T) {
		t.Parallel()
		h, dlq, _ := newTestRoutes(t, testToken)
		dlq.On("ListDLQ", mock.Anything, "", defaultDLQLimit).Return(nil, nil).Once()

		rec := do(h, http.MethodGet, "/admin/dlq", testToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("invalid limit", func(t *testing.T) {
		t.Parallel()
		h, _, _ := newTestRoutes(t, testToken)
		rec := do(h, http.MethodGet, "/admin/dlq?limit=-1", testToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("requeue", func(t *testing.T) {
		t.Parallel()
		h, dlq, _ := newTestRoutes(t, testToken)
		id := uuid.New()
		task := &queue.Task{ID: uuid.New(), Queue: "reconcile"}
		dlq.On("RequeueFromDLQ", mock.Anything, id, int8(3)).Return(task, nil).Once()

		rec := do(h, http.MethodPost, "/admin/dlq/"+id.String()+"/requeue", testToken)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.JSONEq(t, `{"task_id":"`+task.ID.String()+`"}`, rec.Body.String())
	})

	t.Run("requeue unknown entry", func(t *testing.T) {
		t.Parallel()
		h, dlq, _ := newTestRoutes(t, testToken)
		id := uuid.New()
		dlq.On("RequeueFromDLQ", mock.Anything, id, int8(3)).Return(nil, queue.ErrDLQEntryNotFound).Once()

		rec := do(h, http.MethodPost, "/admin/dlq/"+id.String()+"/requeue", testToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("requeue storage failure", func(t *testing.T) {
		t.Parallel()
		h, dlq, _ := newTestRoutes(t, testToken)
		id := uuid.New()
		dlq.On("RequeueFromDLQ", mock.Anything, id, int8(3)).Return(nil, errors.New("db down")).Once()

		rec := do(h, http.MethodPost, "/admin/dlq/"+id.String()+"/requeue", testToken)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("requeue bad id", func(t *testing.T) {
		t.Parallel()
		h, _, _ := newTestRoutes(t, testToken)
		rec := do(h, http.MethodPost, "/admin/dlq/not-a-uuid/requeue", testToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("breaker metrics", func(t *testing.T) {
		t.Parallel()
		h, _, breakers := newTestRoutes(t, testToken)
		breakers.Get("gateway.paddle")

		rec := do(h, http.MethodGet, "/admin/breakers", testToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"name":"gateway.paddle"`)
		assert.Contains(t, rec.Body.String(), `"state":"closed"`)
	})

	t.Run("worker identity", func(t *testing.T) {
		t.Parallel()
		h, _, _ := newTestRoutes(t, testToken)

		rec := do(h, http.MethodGet, "/admin/worker", testToken)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			WorkerID string `json:"worker_id"`
			Hostname string `json:"hostname"`
			PID      int    `json:"pid"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		_, err := uuid.Parse(body.WorkerID)
		assert.NoError(t, err)
		assert.Equal(t, os.Getpid(), body.PID)
	})

	t.Run("worker identity requires token", func(t *testing.T) {
		t.Parallel()
		h, _, _ := newTestRoutes(t, testToken)
		rec := do(h, http.MethodGet, "/admin/worker", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAppConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := appConfig{Provider: "paddle", Queue: queue.Config{MaxAttempts: 3}}
	require.NoError(t, valid.Validate())

	stripe := valid
	stripe.Provider = "stripe"
	require.NoError(t, stripe.Validate())

	unknown := valid
	unknown.Provider = "braintree"
	assert.ErrorIs(t, unknown.Validate(), errUnknownProvider)

	noAttempts := valid
	noAttempts.Queue.MaxAttempts = 0
	assert.Error(t, noAttempts.Validate())
}

func TestAppConfig_Env(t *testing.T) {
	t.Parallel()

	var cfg appConfig
	require.NoError(t, env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{
		"PG_CONN_URL":                  "postgres://localhost/billing",
		"BILLING_PROVIDER":             "stripe",
		"EVENT_BUFFER_SIZE":            "64",
		"IDEMPOTENCY_CACHE_TTL":        "1h",
		"PADDLE_BASE_URL":              "http://paddle.test",
		"GATEWAY_CB_FAILURE_THRESHOLD": "7",
		"QUEUE_MAX_ATTEMPTS":           "4",
	}}))

	assert.Equal(t, "stripe", cfg.Provider)
	assert.Equal(t, 64, cfg.EventBuffer)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "http://paddle.test", cfg.Paddle.BaseURL)
	assert.Equal(t, 7, cfg.Breaker.FailureThreshold)
	assert.Equal(t, int8(4), cfg.Queue.MaxAttempts)
	assert.Equal(t, "billingd", cfg.ServiceName)
	require.NoError(t, cfg.Validate())
}

type planRecorder struct{ plans []subscription.Plan }

func (r *planRecorder) UpsertPlan(_ context.Context, p subscription.Plan) error {
	r.plans = append(r.plans, p)
	return nil
}

func TestSeedPlans(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := &planRecorder{}
	require.NoError(t, seedPlans(context.Background(), rec, "testdata/plans.yaml", log))
	require.Len(t, rec.plans, 2)
	assert.Equal(t, "monthly", rec.plans[0].ID)
	assert.Equal(t, subscription.FrequencyYears, rec.plans[1].Recurrence.FrequencyType)

	err := seedPlans(context.Background(), rec, "testdata/missing.yaml", log)
	assert.Error(t, err)
}
