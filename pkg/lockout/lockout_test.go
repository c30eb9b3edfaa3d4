package lockout

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisForTest connects to TEST_REDIS_ADDR or skips
func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestLockoutManager_LocksAfterMaxAttempts(t *testing.T) {
	client := redisForTest(t)
	lm := NewLockoutManager(client, 3, time.Minute)
	ctx := context.Background()
	id := "user-" + uuid.NewString()
	t.Cleanup(func() { _ = lm.ClearFailedAttempts(ctx, id) })

	for i := 0; i < 2; i++ {
		require.NoError(t, lm.RecordFailedAttempt(ctx, id))
	}
	locked, remaining, err := lm.CheckLockout(ctx, id)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, 1, remaining)

	require.NoError(t, lm.RecordFailedAttempt(ctx, id))
	locked, remaining, err = lm.CheckLockout(ctx, id)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Zero(t, remaining)

	ttl, err := client.TTL(ctx, failedKey(id)).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, lm.ClearFailedAttempts(ctx, id))
	locked, remaining, err = lm.CheckLockout(ctx, id)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, 3, remaining)
}

func TestLockoutManager_ReportsRedisErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	lm := NewLockoutManager(client, 3, time.Minute)

	_, _, err := lm.CheckLockout(context.Background(), "mira")
	assert.ErrorContains(t, err, "failed to check lockout status")
	assert.ErrorContains(t, lm.RecordFailedAttempt(context.Background(), "mira"), "failed to record")
}
