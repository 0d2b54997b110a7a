//go:build integration

package observability

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestLocker(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	l := NewLocker(client)
	name := "test-" + uuid.NewString()

	release, err := l.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, name, time.Minute)
	assert.True(t, errors.Is(err, ErrLocked))

	require.NoError(t, release(ctx))
	release2, err := l.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestPublishSubscribe(t *testing.T) {
	client := testRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan SyncCompletedEvent, 1)
	require.NoError(t, SubscribeSyncCompleted(ctx, client, nil, func(ev SyncCompletedEvent) { got <- ev }))

	require.NoError(t, NewPublisher(client, nil).PublishSyncCompleted(ctx, SyncCompletedEvent{RunID: "r1", Status: "success"}))

	select {
	case ev := <-got:
		assert.Equal(t, "r1", ev.RunID)
		assert.Equal(t, "sync.completed", ev.EventType)
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}
