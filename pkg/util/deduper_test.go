package util

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestDeduper_AcquireOnceIsExclusive(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	d := NewDeduper(rdb, time.Minute, zap.NewNop())
	key := "test-" + time.Now().Format(time.RFC3339Nano)

	release, ok := d.AcquireOnce(ctx, "tick", key)
	require.True(t, ok)

	_, again := d.AcquireOnce(ctx, "tick", key)
	assert.False(t, again)

	release(ctx)
	release2, ok := d.AcquireOnce(ctx, "tick", key)
	require.True(t, ok)
	release2(ctx)
}

func TestDeduper_FailsOpenWhenRedisUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	d := NewDeduper(rdb, time.Minute, zap.NewNop())

	release, ok := d.AcquireOnce(context.Background(), "tick", "k")
	assert.True(t, ok)
	release(context.Background())
}
