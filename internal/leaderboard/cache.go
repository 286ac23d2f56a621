package leaderboard

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/cache"
)

// LeaderboardCache provides caching for leaderboard and history responses
type LeaderboardCache struct {
	cache *cache.Cache
}

// NewLeaderboardCache creates a new leaderboard cache
func NewLeaderboardCache(ttl time.Duration, metrics cache.Metrics) *LeaderboardCache {
	c := cache.NewCache(ttl)
	if metrics != nil {
		c.WithMetrics(metrics)
	}
	return &LeaderboardCache{cache: c}
}

func repoKey(repository string) string {
	return strings.ToLower(strings.TrimSpace(repository))
}

// generateCacheKey creates a cache key for leaderboard data
func (lc *LeaderboardCache) generateCacheKey(repository string, mode Mode) string {
	return fmt.Sprintf("leaderboard:%s:%s", repoKey(repository), mode)
}

// generateHistoryCacheKey creates a cache key for a member's history
func (lc *LeaderboardCache) generateHistoryCacheKey(repository, identity string) string {
	return fmt.Sprintf("history:%s:%s", repoKey(repository), strings.ToLower(strings.TrimSpace(identity)))
}

// GetLeaderboard retrieves cached leaderboard data
func (lc *LeaderboardCache) GetLeaderboard(repository string, mode Mode) (*Response, bool) {
	var response Response
	if !lc.cache.GetJSON(lc.generateCacheKey(repository, mode), &response) {
		return nil, false
	}

	slog.Debug("Leaderboard cache hit", "repository", repository, "mode", mode)
	return &response, true
}

// SetLeaderboard caches leaderboard data
func (lc *LeaderboardCache) SetLeaderboard(repository string, mode Mode, response *Response) {
	if err := lc.cache.SetJSON(lc.generateCacheKey(repository, mode), response); err != nil {
		slog.Error("Failed to marshal leaderboard data for cache", "error", err, "repository", repository)
		return
	}
	slog.Debug("Leaderboard cached", "repository", repository, "mode", mode, "entries", len(response.Entries))
}

// GetHistory retrieves a cached member history
func (lc *LeaderboardCache) GetHistory(repository, identity string) (*HistoryResponse, bool) {
	var response HistoryResponse
	if !lc.cache.GetJSON(lc.generateHistoryCacheKey(repository, identity), &response) {
		return nil, false
	}
	return &response, true
}

// SetHistory caches a member history
func (lc *LeaderboardCache) SetHistory(repository, identity string, response *HistoryResponse) {
	if err := lc.cache.SetJSON(lc.generateHistoryCacheKey(repository, identity), response); err != nil {
		slog.Error("Failed to marshal history for cache", "error", err, "repository", repository)
	}
}

// Invalidate drops every cached response of a repository
func (lc *LeaderboardCache) Invalidate(repository string) int {
	key := repoKey(repository)
	removed := lc.cache.DeletePrefix("leaderboard:"+key+":") + lc.cache.DeletePrefix("history:"+key+":")
	slog.Info("Invalidated leaderboard cache", "repository", repository, "entries", removed)
	return removed
}

// GetStats returns cache statistics
func (lc *LeaderboardCache) GetStats() map[string]interface{} {
	return lc.cache.Stats()
}

// Close stops the cache's cleanup loop
func (lc *LeaderboardCache) Close() {
	lc.cache.Close()
}
