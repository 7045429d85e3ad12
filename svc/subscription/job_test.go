package subscription_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingcore/pkg/logger"
	"github.com/dmitrymomot/billingcore/pkg/queue"
	"github.com/dmitrymomot/billingcore/svc/subscription"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type jobFixture struct {
	clock    *testClock
	store    *subscription.MemoryStore
	gateway  *mockGateway
	storage  *queue.MemoryStorage
	enqueuer *queue.Enqueuer
	worker   *queue.Worker
}

func newJobFixture(t *testing.T) *jobFixture {
	t.Helper()

	f := &jobFixture{
		clock:   newTestClock(),
		store:   subscription.NewMemoryStore(),
		gateway: new(mockGateway),
	}
	f.storage = queue.NewMemoryStorage(queue.WithMemoryClock(f.clock.Now))
	t.Cleanup(func() { _ = f.storage.Close() })

	var err error
	f.enqueuer, err = queue.NewEnqueuer(f.storage, queue.WithEnqueuerClock(f.clock.Now))
	require.NoError(t, err)

	f.worker, err = queue.NewWorker(f.storage,
		queue.WithQueues(subscription.ReconcileQueue),
		queue.WithWorkerClock(f.clock.Now),
		queue.WithWorkerLogger(discardLogger),
	)
	require.NoError(t, err)

	svc := subscription.NewReconciliationService(f.store, f.store,
		subscription.WithClock(f.clock.Now),
		subscription.WithLogger(discardLogger),
	)
	require.NoError(t, f.worker.RegisterHandler(subscription.NewReconcileJobHandler(svc, f.gateway)))
	return f
}

func (f *jobFixture) enqueue(t *testing.T, job subscription.ReconcileJob) *queue.Task {
	t.Helper()
	id, err := f.enqueuer.Enqueue(context.Background(), job, queue.WithQueue(subscription.ReconcileQueue))
	require.NoError(t, err)
	task, err := f.storage.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func TestReconcileJob_Success(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	ctx := context.Background()
	sub := seed(t, f.store, subscription.StatePending)

	task := f.enqueue(t, subscription.ReconcileJob{
		Notification:  subscriptionNotification("evt_1", sub.RemoteID),
		RemoteDetail:  &subscription.RemoteDetail{RemoteID: sub.RemoteID, Status: subscription.RemoteAuthorized},
		CorrelationID: "req-42",
		ReceivedAt:    epoch,
	})

	require.NoError(t, f.worker.ProcessNext(ctx))

	done, err := f.storage.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusCompleted, done.Status)

	var res subscription.ReconcileJobResult
	require.NoError(t, json.Unmarshal(done.Result, &res))
	assert.Equal(t, 1, res.Attempt)
	assert.Equal(t, "req-42", res.CorrelationID)
	assert.Equal(t, subscription.ActionActivated, res.Result.Action)
	assert.True(t, res.Result.Success)

	assert.Equal(t, subscription.StateActive, mustGet(t, f.store, sub.ID).State)
	f.gateway.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestReconcileJob_FetchesMissingDetail(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	ctx := context.Background()
	sub := seed(t, f.store, subscription.StateActive)

	f.gateway.On("Get", mock.MatchedBy(func(ctx context.Context) bool {
		return logger.CorrelationIDFromContext(ctx) == "req-7"
	}), sub.RemoteID).
		Return(&subscription.RemoteDetail{RemoteID: sub.RemoteID, Status: subscription.RemoteCancelled}, nil).Once()

	f.enqueue(t, subscription.ReconcileJob{
		Notification:  subscriptionNotification("evt_cancel", sub.RemoteID),
		CorrelationID: "req-7",
	})

	require.NoError(t, f.worker.ProcessNext(ctx))
	assert.Equal(t, subscription.StateCancelled, mustGet(t, f.store, sub.ID).State)
	f.gateway.AssertExpectations(t)
}

func TestReconcileJob_PaymentFailedNeedsNoDetail(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	sub := seed(t, f.store, subscription.StateActive)

	f.enqueue(t, subscription.ReconcileJob{
		Notification: subscription.Notification{
			ID:       "evt_fail",
			Type:     subscription.NotificationPaymentFailed,
			RemoteID: sub.RemoteID,
		},
	})

	require.NoError(t, f.worker.ProcessNext(context.Background()))
	assert.Equal(t, subscription.StateGrace, mustGet(t, f.store, sub.ID).State)
	f.gateway.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestReconcileJob_RetriesThenDeadLetters(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	ctx := context.Background()
	sub := seed(t, f.store, subscription.StatePending)

	f.gateway.On("Get", mock.Anything, sub.RemoteID).
		Return(nil, errors.New("gateway timeout")).Times(3)

	task := f.enqueue(t, subscription.ReconcileJob{
		Notification: subscriptionNotification("evt_retry", sub.RemoteID),
	})

	require.NoError(t, f.worker.ProcessNext(ctx))
	pending, err := f.storage.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusPending, pending.Status)
	assert.Equal(t, epoch.Add(time.Second), pending.ScheduledAt)
	assert.ErrorIs(t, f.worker.ProcessNext(ctx), queue.ErrNoTaskToClaim, "backoff delay not elapsed")

	f.clock.Advance(time.Second)
	require.NoError(t, f.worker.ProcessNext(ctx))
	f.clock.Advance(2 * time.Second)
	require.NoError(t, f.worker.ProcessNext(ctx))

	_, err = f.storage.GetTask(ctx, task.ID)
	require.ErrorIs(t, err, queue.ErrTaskNotFound)

	dlq, err := f.storage.ListDLQ(ctx, subscription.ReconcileQueue, 0)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, task.ID, dlq[0].TaskID)
	assert.Equal(t, int8(3), dlq[0].Attempts)
	assert.Contains(t, dlq[0].Error, "gateway timeout")

	assert.Equal(t, subscription.StatePending, mustGet(t, f.store, sub.ID).State)
	f.gateway.AssertExpectations(t)
}

func TestReconcileJob_UnknownSubscriptionCompletes(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	ctx := context.Background()

	task := f.enqueue(t, subscription.ReconcileJob{
		Notification: subscriptionNotification("evt_orphan", "sub_missing"),
		RemoteDetail: &subscription.RemoteDetail{Status: subscription.RemoteAuthorized},
	})

	require.NoError(t, f.worker.ProcessNext(ctx))

	done, err := f.storage.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusCompleted, done.Status)

	var res subscription.ReconcileJobResult
	require.NoError(t, json.Unmarshal(done.Result, &res))
	assert.False(t, res.Result.Success)
	assert.Equal(t, subscription.ActionError, res.Result.Action)
}
