package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingcore/pkg/circuitbreaker"
	"github.com/dmitrymomot/billingcore/pkg/httpserver"
	"github.com/dmitrymomot/billingcore/pkg/logger"
	"github.com/dmitrymomot/billingcore/pkg/queue"
)

const defaultDLQLimit = 50

type routes struct {
	log         *slog.Logger
	provider    string
	webhook     http.Handler
	checks      []httpserver.Check
	dlq         queue.DLQRepository
	maxAttempts int8
	breakers    *circuitbreaker.Registry
	worker      workerIdentity
	adminToken  string
}

type workerIdentity interface {
	WorkerInfo() (id string, hostname string, pid int)
}

func (rt routes) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/livez", httpserver.HealthCheckHandler(rt.log))
	r.Get("/healthz", httpserver.HealthCheckHandler(rt.log, rt.checks...))
	r.Post("/webhooks/"+rt.provider, rt.webhook.ServeHTTP)

	// Operator endpoints stay unmounted without a token.
	if rt.adminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(bearerAuth(rt.adminToken))
			r.Get("/dlq", rt.listDLQ)
			r.Post("/dlq/{id}/requeue", rt.requeueDLQ)
			r.Get("/breakers", rt.listBreakers)
			r.Get("/worker", rt.workerInfo)
		})
	}
	return r
}

func (rt routes) listDLQ(w http.ResponseWriter, r *http.Request) {
	limit := defaultDLQLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := rt.dlq.ListDLQ(r.Context(), r.URL.Query().Get("queue"), limit)
	if err != nil {
		rt.log.ErrorContext(r.Context(), "failed to list dead letters", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if entries == nil {
		entries = []queue.TasksDlq{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (rt routes) requeueDLQ(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dead letter id")
		return
	}

	task, err := rt.dlq.RequeueFromDLQ(r.Context(), id, rt.maxAttempts)
	switch {
	case errors.Is(err, queue.ErrDLQEntryNotFound):
		writeError(w, http.StatusNotFound, "dead letter not found")
		return
	case err != nil:
		rt.log.ErrorContext(r.Context(), "failed to requeue dead letter", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to requeue dead letter")
		return
	}

	rt.log.InfoContext(r.Context(), "dead letter requeued",
		logger.TaskID(task.ID.String()),
		logger.Queue(task.Queue))
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID.String()})
}

func (rt routes) listBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.breakers.Metrics())
}

func (rt routes) workerInfo(w http.ResponseWriter, r *http.Request) {
	id, hostname, pid := rt.worker.WorkerInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"worker_id": id,
		"hostname":  hostname,
		"pid":       pid,
	})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(strings.TrimSpace(r.Header.Get("Authorization")))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
