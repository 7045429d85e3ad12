package subscription_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingcore/pkg/redis"
	"github.com/dmitrymomot/billingcore/svc/subscription"
)

func TestRedisIdempotencyCache_RedisDown(t *testing.T) {
	t.Parallel()

	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	store := subscription.NewMemoryStore()
	cache := subscription.NewRedisIdempotencyCache(
		redis.NewMarkerSet(client, "test:processed:", time.Hour),
		store,
		subscription.WithLogger(discardLogger),
	)
	ctx := context.Background()

	done, err := cache.WasProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, cache.MarkProcessed(ctx, subscription.ProcessingRecord{NotificationID: "evt_1"}))

	done, err = cache.WasProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, done, "store answers when redis is unreachable")

	assert.ErrorIs(t, cache.MarkProcessed(ctx, subscription.ProcessingRecord{NotificationID: "evt_1"}), subscription.ErrAlreadyProcessed)
}

func TestRedisIdempotencyCache_Integration(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	prefix := "test:processed:" + time.Now().Format("150405.000000") + ":"
	markers := redis.NewMarkerSet(client, prefix, time.Minute)
	store := subscription.NewMemoryStore()
	cache := subscription.NewRedisIdempotencyCache(markers, store, subscription.WithLogger(discardLogger))
	ctx := context.Background()

	require.NoError(t, cache.MarkProcessed(ctx, subscription.ProcessingRecord{NotificationID: "evt_1"}))

	hit, err := markers.Has(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, hit)

	done, err := cache.WasProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, done)

	t.Run("backfills from store", func(t *testing.T) {
		require.NoError(t, store.MarkProcessed(ctx, subscription.ProcessingRecord{NotificationID: "evt_2"}))

		done, err := cache.WasProcessed(ctx, "evt_2")
		require.NoError(t, err)
		assert.True(t, done)

		hit, err := markers.Has(ctx, "evt_2")
		require.NoError(t, err)
		assert.True(t, hit)
	})
}
