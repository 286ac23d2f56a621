package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/coordination"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/monitoring"
)

// Config holds rate limiter configuration
type Config struct {
	IPLimitPerMin    int // requests per client IP per minute
	VoterLimitPerMin int // vote batches per voter address per minute
	BurstMultiplier  int // burst capacity multiplier for the in-memory fallback
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		IPLimitPerMin:    120,
		VoterLimitPerMin: 10,
		BurstMultiplier:  1,
	}
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter provides distributed rate limiting with Redis and in-memory fallback
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *coordination.RedisClient
	config       Config
	metrics      *monitoring.Metrics

	fallbackLimiters map[string]*rate.Limiter
	fallbackMutex    sync.Mutex

	stop chan struct{}
	once sync.Once
}

// NewRateLimiter creates a new rate limiter with Redis and in-memory fallback
func NewRateLimiter(redisClient *coordination.RedisClient, config Config, metrics *monitoring.Metrics) *RateLimiter {
	if config.BurstMultiplier < 1 {
		config.BurstMultiplier = 1
	}

	rl := &RateLimiter{
		redisClient:      redisClient,
		config:           config,
		metrics:          metrics,
		fallbackLimiters: make(map[string]*rate.Limiter),
		stop:             make(chan struct{}),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		slog.Info("Redis rate limiter initialized")
	} else {
		slog.Warn("Redis unavailable, using in-memory rate limiting only")
	}

	go rl.cleanupFallbackLimiters()

	return rl
}

// AllowIP checks if an IP address is allowed to make a request (per-minute limit)
func (rl *RateLimiter) AllowIP(ctx context.Context, ip string) (*Result, error) {
	return rl.allow(ctx, fmt.Sprintf("ratelimit:ip:%s", ip), rl.config.IPLimitPerMin, time.Minute)
}

// AllowVoter checks if a voter address may submit another vote batch (per-minute limit)
func (rl *RateLimiter) AllowVoter(ctx context.Context, address string) (*Result, error) {
	key := fmt.Sprintf("ratelimit:voter:%s", strings.ToLower(strings.TrimSpace(address)))
	result, err := rl.allow(ctx, key, rl.config.VoterLimitPerMin, time.Minute)
	if err == nil && !result.Allowed && rl.metrics != nil {
		rl.metrics.IncrementRateLimitVoterBlock()
	}
	return result, err
}

func (rl *RateLimiter) allow(ctx context.Context, key string, limit int, period time.Duration) (*Result, error) {
	if limit <= 0 {
		return &Result{Allowed: true, Limit: limit}, nil
	}

	if rl.redisLimiter != nil {
		result, err := rl.allowRedis(ctx, key, limit, period)
		if err == nil {
			return result, nil
		}
		slog.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
		if rl.metrics != nil {
			rl.metrics.IncrementRateLimitRedisError()
		}
	}

	return rl.allowFallback(key, limit, period), nil
}

func (rl *RateLimiter) allowRedis(ctx context.Context, key string, limit int, period time.Duration) (*Result, error) {
	res, err := rl.redisLimiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit,
		Burst:  limit,
		Period: period,
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		ResetAt:    time.Now().Add(res.ResetAfter),
		RetryAfter: res.RetryAfter,
	}, nil
}

// allowFallback uses an in-memory token bucket per key
func (rl *RateLimiter) allowFallback(key string, limit int, period time.Duration) *Result {
	rl.fallbackMutex.Lock()
	limiter, exists := rl.fallbackLimiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(float64(limit)/period.Seconds()), limit*rl.config.BurstMultiplier)
		rl.fallbackLimiters[key] = limiter
	}
	rl.fallbackMutex.Unlock()

	now := time.Now()
	reservation := limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return &Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    now.Add(delay),
			RetryAfter: delay,
		}
	}

	remaining := int(limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(period),
	}
}

func (rl *RateLimiter) cleanupFallbackLimiters() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.fallbackMutex.Lock()
			if len(rl.fallbackLimiters) > 1000 {
				slog.Info("Cleaning up fallback rate limiters", "count", len(rl.fallbackLimiters))
				rl.fallbackLimiters = make(map[string]*rate.Limiter)
			}
			rl.fallbackMutex.Unlock()
		}
	}
}

// Close stops the fallback cleanup goroutine
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.fallbackMutex.Lock()
	fallbackCount := len(rl.fallbackLimiters)
	rl.fallbackMutex.Unlock()

	stats := map[string]interface{}{
		"redis_enabled":     rl.redisClient.IsEnabled(),
		"fallback_limiters": fallbackCount,
	}
	if rl.redisClient.IsEnabled() {
		stats["redis_pool"] = rl.redisClient.GetPoolStats()
	}
	return stats
}
