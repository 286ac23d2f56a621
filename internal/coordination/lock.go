// Package coordination serializes work that must not run concurrently for the same key.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/resilience"
)

// ErrLocked is returned when another holder owns the lock
var ErrLocked = errors.New("lock is held by another operation")

// Unlock releases a held lock. Releasing an expired or stolen lock is a no-op.
type Unlock func(ctx context.Context) error

// Locker acquires exclusive, expiring locks by key
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// NewLocker returns a Redis-backed locker when Redis is enabled, an in-process one otherwise
func NewLocker(client *RedisClient) Locker {
	if client.IsEnabled() {
		return NewRedisLocker(client.GetClient())
	}
	return NewMemoryLocker()
}

const lockPrefix = "lock:"

// compare-and-delete so a holder never releases a lock re-acquired by someone else
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a random token per holder
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a Redis-backed locker
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock acquires key for ttl or returns ErrLocked without waiting
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	redisKey := lockPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func(ctx context.Context) error {
		err := resilience.RetryWithPolicy(ctx, resilience.FastRetryPolicy, func() error {
			return releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
		})
		if err != nil {
			slog.Warn("Failed to release lock", "key", key, "error", err)
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

type memoryLock struct {
	token   string
	expires time.Time
}

// MemoryLocker implements Locker for a single process
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLock)}
}

// TryLock acquires key for ttl or returns ErrLocked without waiting
func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if held, ok := l.locks[key]; ok && now.Before(held.expires) {
		return nil, ErrLocked
	}

	token := uuid.NewString()
	l.locks[key] = memoryLock{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.locks[key]; ok && held.token == token {
			delete(l.locks, key)
		}
		return nil
	}, nil
}
