//go:build integration

package analytics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/calinsight/pkg/meetings"
	"github.com/otherjamesbrown/calinsight/pkg/observability"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("CALINSIGHT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CALINSIGHT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestRedisCache(t *testing.T) {
	client := testRedis(t)
	cache := NewRedisCache(client)
	ctx := context.Background()
	require.NoError(t, cache.Flush(ctx))

	_, ok, err := cache.Get(ctx, "overview:abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "overview:abc", []byte(`{"total_meetings":3}`), time.Minute))
	raw, ok, err := cache.Get(ctx, "overview:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"total_meetings":3}`, string(raw))

	require.NoError(t, cache.Flush(ctx))
	_, ok, err = cache.Get(ctx, "overview:abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_InvalidateOnSync(t *testing.T) {
	client := testRedis(t)
	cache := NewRedisCache(client)
	svc := NewService(seededStore(t), WithCache(cache, time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Overview(ctx, meetings.Filter{})
	require.NoError(t, err)
	require.NoError(t, svc.InvalidateOnSync(ctx, client))

	pub := observability.NewPublisher(client, nil)
	require.NoError(t, pub.PublishSyncCompleted(ctx, observability.SyncCompletedEvent{RunID: "r1"}))

	assert.Eventually(t, func() bool {
		keys, err := client.Keys(ctx, cacheKeyPrefix+"*").Result()
		return err == nil && len(keys) == 0
	}, 5*time.Second, 50*time.Millisecond)
}
