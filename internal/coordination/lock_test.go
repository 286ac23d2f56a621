package coordination

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockers(t *testing.T) map[string]Locker {
	t.Helper()
	out := map[string]Locker{"memory": NewMemoryLocker()}

	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { client.Close() })
		out["redis"] = NewRedisLocker(client)
	}
	return out
}

func TestLocker_Exclusive(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "round:start:acme/widgets:" + t.Name()

			unlock, err := locker.TryLock(ctx, key, time.Minute)
			require.NoError(t, err)

			_, err = locker.TryLock(ctx, key, time.Minute)
			assert.ErrorIs(t, err, ErrLocked)

			require.NoError(t, unlock(ctx))

			unlock, err = locker.TryLock(ctx, key, time.Minute)
			require.NoError(t, err)
			require.NoError(t, unlock(ctx))
		})
	}
}

func TestLocker_Expiry(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "expiring:" + t.Name()

			stale, err := locker.TryLock(ctx, key, 20*time.Millisecond)
			require.NoError(t, err)
			time.Sleep(40 * time.Millisecond)

			fresh, err := locker.TryLock(ctx, key, time.Minute)
			require.NoError(t, err)

			// the stale holder must not release the fresh holder's lock
			require.NoError(t, stale(ctx))
			_, err = locker.TryLock(ctx, key, time.Minute)
			assert.ErrorIs(t, err, ErrLocked)

			require.NoError(t, fresh(ctx))
		})
	}
}

func TestMemoryLocker_Concurrent(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		acquired int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := locker.TryLock(ctx, "same", time.Minute); err == nil {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired)
}

func TestNewLocker_FallsBackWithoutRedis(t *testing.T) {
	client, err := NewRedisClient("", "", 0)
	require.NoError(t, err)
	assert.False(t, client.IsEnabled())
	assert.IsType(t, &MemoryLocker{}, NewLocker(client))
	assert.Equal(t, map[string]interface{}{"enabled": false}, client.GetPoolStats())
}
