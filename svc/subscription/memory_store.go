package subscription

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore implements Store and IdempotencyStore in memory. Transactions
// are serialized and restored from a snapshot on failure. Intended for tests
// and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	subs      map[uuid.UUID]*Subscription
	history   map[uuid.UUID][]StateHistoryEntry
	processed map[string]ProcessingRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:      make(map[uuid.UUID]*Subscription),
		history:   make(map[uuid.UUID][]StateHistoryEntry),
		processed: make(map[string]ProcessingRecord),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

func (s *MemoryStore) FindByRemoteID(ctx context.Context, remoteID string) (*Subscription, error) {
	if remoteID == "" {
		return nil, ErrSubscriptionNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.RemoteID == remoteID {
			return sub.Clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemoryStore) History(ctx context.Context, subscriptionID uuid.UUID) ([]StateHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history[subscriptionID]), nil
}

// WasProcessed implements IdempotencyStore.
func (s *MemoryStore) WasProcessed(ctx context.Context, notificationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[notificationID]
	return ok, nil
}

// MarkProcessed implements IdempotencyStore outside of a transaction.
func (s *MemoryStore) MarkProcessed(ctx context.Context, rec ProcessingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{s: s}).MarkProcessed(ctx, rec)
}

// ProcessingRecords returns every stored marker.
func (s *MemoryStore) ProcessingRecords() []ProcessingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Collect(maps.Values(s.processed))
}

// Count returns the number of stored subscriptions.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.restore(snap)
			panic(r)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(ctx, &memoryTx{s: s})
}

func (s *MemoryStore) get(id uuid.UUID) (*Subscription, error) {
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

type memorySnapshot struct {
	subs      map[uuid.UUID]*Subscription
	history   map[uuid.UUID][]StateHistoryEntry
	processed map[string]ProcessingRecord
}

func (s *MemoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		subs:      make(map[uuid.UUID]*Subscription, len(s.subs)),
		history:   make(map[uuid.UUID][]StateHistoryEntry, len(s.history)),
		processed: maps.Clone(s.processed),
	}
	for id, sub := range s.subs {
		snap.subs[id] = sub.Clone()
	}
	for id, h := range s.history {
		snap.history[id] = slices.Clone(h)
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.subs = snap.subs
	s.history = snap.history
	s.processed = snap.processed
}

// memoryTx runs with the store's write lock held.
type memoryTx struct {
	s *MemoryStore
}

func (t *memoryTx) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return t.s.get(id)
}

func (t *memoryTx) Insert(ctx context.Context, sub *Subscription) error {
	if _, exists := t.s.subs[sub.ID]; exists {
		return ErrInvalidInput
	}
	t.s.subs[sub.ID] = sub.Clone()
	return nil
}

func (t *memoryTx) UpdateVersioned(ctx context.Context, sub *Subscription, expectedVersion int64) error {
	current, ok := t.s.subs[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if current.Version != expectedVersion {
		return &ConflictError{
			SubscriptionID:  sub.ID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   current.Version,
		}
	}

	stored := sub.Clone()
	stored.Version = expectedVersion + 1
	stored.CreatedAt = current.CreatedAt
	t.s.subs[sub.ID] = stored
	sub.Version = stored.Version
	return nil
}

func (t *memoryTx) AppendHistory(ctx context.Context, entry StateHistoryEntry) error {
	if _, ok := t.s.subs[entry.SubscriptionID]; !ok {
		return ErrSubscriptionNotFound
	}
	entry.Metadata = maps.Clone(entry.Metadata)
	t.s.history[entry.SubscriptionID] = append(t.s.history[entry.SubscriptionID], entry)
	return nil
}

func (t *memoryTx) MarkProcessed(ctx context.Context, rec ProcessingRecord) error {
	if _, ok := t.s.processed[rec.NotificationID]; ok {
		return ErrAlreadyProcessed
	}
	t.s.processed[rec.NotificationID] = rec
	return nil
}
