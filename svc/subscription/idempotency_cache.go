package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingcore/pkg/logger"
	"github.com/dmitrymomot/billingcore/pkg/redis"
)

// DefaultIdempotencyCacheTTL bounds how long processed markers stay in Redis.
// Gateways stop redelivering well before this.
const DefaultIdempotencyCacheTTL = 72 * time.Hour

// RedisIdempotencyCache answers WasProcessed from Redis when it can and falls
// back to the authoritative store. Redis failures are logged and ignored.
type RedisIdempotencyCache struct {
	markers *redis.MarkerSet
	next    IdempotencyStore
	logger  *slog.Logger
}

// NewRedisIdempotencyCache wraps next with a Redis marker set.
func NewRedisIdempotencyCache(markers *redis.MarkerSet, next IdempotencyStore, opts ...Option) *RedisIdempotencyCache {
	o := newOptions(opts)
	return &RedisIdempotencyCache{
		markers: markers,
		next:    next,
		logger:  o.logger.With(logger.Component("subscription.idempotency")),
	}
}

func (c *RedisIdempotencyCache) WasProcessed(ctx context.Context, notificationID string) (bool, error) {
	hit, err := c.markers.Has(ctx, notificationID)
	if err != nil {
		c.logger.WarnContext(ctx, "idempotency cache lookup failed",
			logger.NotificationID(notificationID), logger.Error(err))
	} else if hit {
		return true, nil
	}

	done, err := c.next.WasProcessed(ctx, notificationID)
	if err != nil {
		return false, err
	}
	if done {
		c.Remember(ctx, notificationID)
	}
	return done, nil
}

func (c *RedisIdempotencyCache) MarkProcessed(ctx context.Context, rec ProcessingRecord) error {
	if err := c.next.MarkProcessed(ctx, rec); err != nil {
		return err
	}
	c.Remember(ctx, rec.NotificationID)
	return nil
}

// Remember caches a marker that is already committed to the store.
func (c *RedisIdempotencyCache) Remember(ctx context.Context, notificationID string) {
	if _, err := c.markers.Add(ctx, notificationID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		c.logger.WarnContext(ctx, "failed to cache processed marker",
			logger.NotificationID(notificationID), logger.Error(err))
	}
}
