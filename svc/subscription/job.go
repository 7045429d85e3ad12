package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/billingcore/pkg/logger"
	"github.com/dmitrymomot/billingcore/pkg/queue"
)

// ReconcileQueue is the queue reconciliation jobs are enqueued on.
const ReconcileQueue = "reconcile"

// ReconcileJob carries one verified notification from the webhook endpoint to
// the worker. RemoteDetail is nil when the endpoint could not reach the
// gateway; the worker fetches it then.
type ReconcileJob struct {
	Notification  Notification  `json:"notification"`
	RemoteDetail  *RemoteDetail `json:"remote_detail,omitempty"`
	CorrelationID string        `json:"correlation_id"`
	ReceivedAt    time.Time     `json:"received_at"`
}

// ReconcileJobResult is stored on the completed task.
type ReconcileJobResult struct {
	Result        Result `json:"result"`
	Attempt       int    `json:"attempt"`
	CorrelationID string `json:"correlation_id"`
}

// NewReconcileJobHandler returns the queue handler for ReconcileJob. Any
// error makes the queue retry the job until its attempts run out.
func NewReconcileJobHandler(svc *ReconciliationService, gateway Gateway) queue.Handler {
	return queue.NewResultTaskHandler(func(ctx context.Context, job ReconcileJob) (ReconcileJobResult, error) {
		ctx = logger.WithCorrelationID(ctx, job.CorrelationID)

		attempt := 1
		if info, ok := queue.TaskInfoFromContext(ctx); ok {
			attempt = int(info.Attempt)
		}

		detail := job.RemoteDetail
		if detail == nil && job.Notification.Type != NotificationPaymentFailed {
			if gateway == nil || job.Notification.RemoteID == "" {
				return ReconcileJobResult{}, fmt.Errorf("no remote detail for notification %s", job.Notification.ID)
			}
			d, err := gateway.Get(ctx, job.Notification.RemoteID)
			if err != nil {
				return ReconcileJobResult{}, fmt.Errorf("failed to fetch remote detail: %w", err)
			}
			detail = d
		}

		res, err := svc.ProcessNotification(ctx, job.Notification, detail)
		if err != nil {
			return ReconcileJobResult{}, err
		}

		return ReconcileJobResult{
			Result:        res,
			Attempt:       attempt,
			CorrelationID: job.CorrelationID,
		}, nil
	})
}
