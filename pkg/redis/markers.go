package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// MarkerSet records string markers under a common prefix, each expiring after ttl.
// It is meant for "seen before" checks where the authoritative answer lives
// elsewhere and Redis only short-circuits the common case.
type MarkerSet struct {
	db     redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewMarkerSet creates a marker set. A zero ttl keeps markers forever.
func NewMarkerSet(client redis.UniversalClient, prefix string, ttl time.Duration) *MarkerSet {
	return &MarkerSet{
		db:     client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Has reports whether the marker is present.
func (m *MarkerSet) Has(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	n, err := m.db.Exists(ctx, m.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Add stores the marker and reports whether it was newly added.
func (m *MarkerSet) Add(ctx context.Context, key string, value string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	ok, err := m.db.SetNX(ctx, m.prefix+key, value, m.ttl).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return ok, nil
}

// Remove deletes the marker.
func (m *MarkerSet) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return m.db.Del(ctx, m.prefix+key).Err()
}
