package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingcore/pkg/logger"
	"github.com/dmitrymomot/billingcore/pkg/queue"
)

// MaxWebhookBodySize caps inbound webhook payloads.
const MaxWebhookBodySize = 1 << 20

// notificationNamespace derives deterministic task ids from notification ids,
// so a redelivered webhook maps onto the task already queued for it.
var notificationNamespace = uuid.MustParse("6f1f3c1e-4a8e-5d59-9a34-0c7b8f1e2d10")

// JobEnqueuer is the producing side of the task queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) (uuid.UUID, error)
}

// WebhookHandler is the inbound endpoint for one provider. It authenticates
// the request, queues a ReconcileJob and acknowledges at once; the outcome of
// reconciliation never reaches the gateway.
type WebhookHandler struct {
	provider string
	parser   WebhookParser
	gateway  Gateway
	enqueuer JobEnqueuer
	now      func() time.Time
	logger   *slog.Logger
}

// NewWebhookHandler creates the endpoint. gateway may be nil, in which case
// the worker fetches the remote detail.
func NewWebhookHandler(provider string, parser WebhookParser, gateway Gateway, enqueuer JobEnqueuer, opts ...Option) *WebhookHandler {
	o := newOptions(opts)
	return &WebhookHandler{
		provider: provider,
		parser:   parser,
		gateway:  gateway,
		enqueuer: enqueuer,
		now:      o.now,
		logger:   o.logger.With(logger.Component("subscription.webhook"), logger.Provider(provider)),
	}
}

// TaskIDFor returns the queue task id used for a notification.
func TaskIDFor(provider, notificationID string) uuid.UUID {
	return uuid.NewSHA1(notificationNamespace, []byte(provider+":"+notificationID))
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodySize))
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", logger.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	n, err := h.parser.ParseWebhook(r, body)
	switch {
	case errors.Is(err, ErrInvalidSignature):
		h.logger.WarnContext(ctx, "webhook signature rejected", logger.Error(err))
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	case errors.Is(err, ErrUnsupportedNotification):
		h.logger.DebugContext(ctx, "webhook ignored", logger.Error(err))
		acknowledge(w)
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "failed to parse webhook", logger.Error(err))
		acknowledge(w)
		return
	}

	correlationID := middleware.GetReqID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = logger.WithCorrelationID(ctx, correlationID)
	if n.Provider == "" {
		n.Provider = h.provider
	}

	job := ReconcileJob{
		Notification:  *n,
		CorrelationID: correlationID,
		ReceivedAt:    h.now(),
	}
	if n.Type == NotificationSubscription && n.RemoteID != "" && h.gateway != nil {
		detail, err := h.gateway.Get(ctx, n.RemoteID)
		if err != nil {
			h.logger.WarnContext(ctx, "remote detail unavailable, deferring to worker",
				logger.NotificationID(n.ID),
				logger.RemoteID(n.RemoteID),
				logger.Error(err))
		} else {
			job.RemoteDetail = detail
		}
	}

	taskID, err := h.enqueuer.Enqueue(ctx, job,
		queue.WithQueue(ReconcileQueue),
		queue.WithTaskID(TaskIDFor(h.provider, n.ID)),
	)
	switch {
	case errors.Is(err, queue.ErrTaskAlreadyExists):
		h.logger.DebugContext(ctx, "webhook redelivered, job already queued", logger.NotificationID(n.ID))
	case err != nil:
		h.logger.ErrorContext(ctx, "failed to enqueue reconciliation job",
			logger.NotificationID(n.ID),
			logger.Error(err))
	default:
		h.logger.InfoContext(ctx, "reconciliation job queued",
			logger.NotificationID(n.ID),
			logger.TaskID(taskID.String()))
	}

	acknowledge(w)
}

func acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}
