package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingcore/svc/subscription"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: epoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type emitted struct {
	Name    string
	Payload subscription.EventPayload
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(ctx context.Context, name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, _ := payload.(subscription.EventPayload)
	r.events = append(r.events, emitted{Name: name, Payload: p})
}

func (r *recordingEmitter) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events))
	for _, e := range r.events {
		names = append(names, e.Name)
	}
	return names
}

func (r *recordingEmitter) Last() emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return emitted{}
	}
	return r.events[len(r.events)-1]
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Create(ctx context.Context, req subscription.CreateRequest) (*subscription.CreateResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*subscription.CreateResponse)
	return resp, args.Error(1)
}

func (m *mockGateway) Cancel(ctx context.Context, remoteID string) (subscription.RemoteStatus, error) {
	args := m.Called(ctx, remoteID)
	status, _ := args.Get(0).(subscription.RemoteStatus)
	return status, args.Error(1)
}

func (m *mockGateway) Get(ctx context.Context, remoteID string) (*subscription.RemoteDetail, error) {
	args := m.Called(ctx, remoteID)
	detail, _ := args.Get(0).(*subscription.RemoteDetail)
	return detail, args.Error(1)
}

// seed stores a subscription in the given state directly, bypassing the
// lifecycle service.
func seed(t *testing.T, store *subscription.MemoryStore, state subscription.State, mutate ...func(*subscription.Subscription)) *subscription.Subscription {
	t.Helper()

	sub := &subscription.Subscription{
		ID:         uuid.New(),
		OwnerID:    uuid.New(),
		PlanID:     "monthly",
		State:      state,
		RemoteID:   "sub_" + uuid.NewString()[:8],
		FinalPrice: 95000,
		Currency:   "USD",
		Version:    1,
		CreatedAt:  epoch,
		UpdatedAt:  epoch,
	}
	for _, fn := range mutate {
		fn(sub)
	}

	err := store.InTx(context.Background(), func(ctx context.Context, tx subscription.Tx) error {
		return tx.Insert(ctx, sub)
	})
	require.NoError(t, err)
	return sub.Clone()
}

func mustGet(t *testing.T, store *subscription.MemoryStore, id uuid.UUID) *subscription.Subscription {
	t.Helper()
	sub, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func mustHistory(t *testing.T, store *subscription.MemoryStore, id uuid.UUID) []subscription.StateHistoryEntry {
	t.Helper()
	h, err := store.History(context.Background(), id)
	require.NoError(t, err)
	return h
}

// interleavedStore lets another writer bump a row between the service's read
// and its transaction, once.
type interleavedStore struct {
	*subscription.MemoryStore
	t    *testing.T
	once sync.Once
}

func (s *interleavedStore) Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	sub, err := s.MemoryStore.Get(ctx, id)
	if err == nil {
		s.bump(ctx, sub.ID)
	}
	return sub, err
}

func (s *interleavedStore) FindByRemoteID(ctx context.Context, remoteID string) (*subscription.Subscription, error) {
	sub, err := s.MemoryStore.FindByRemoteID(ctx, remoteID)
	if err == nil {
		s.bump(ctx, sub.ID)
	}
	return sub, err
}

func (s *interleavedStore) bump(ctx context.Context, id uuid.UUID) {
	s.once.Do(func() {
		err := s.MemoryStore.InTx(ctx, func(ctx context.Context, tx subscription.Tx) error {
			cur, err := tx.Get(ctx, id)
			if err != nil {
				return err
			}
			cur.UpdatedAt = cur.UpdatedAt.Add(time.Minute)
			return tx.UpdateVersioned(ctx, cur, cur.Version)
		})
		require.NoError(s.t, err)
	})
}

// forgetfulIdempotency never reports a notification as processed, like a
// cache that lost its entry.
type forgetfulIdempotency struct{}

func (forgetfulIdempotency) WasProcessed(context.Context, string) (bool, error) { return false, nil }

func (forgetfulIdempotency) MarkProcessed(context.Context, subscription.ProcessingRecord) error {
	return nil
}
