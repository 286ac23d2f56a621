package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds application metrics
type Metrics struct {
	RequestCount        int64
	ErrorCount          int64
	CacheHits           int64
	CacheMisses         int64
	GitHubAPICalls      int64
	AverageResponseTime int64 // in nanoseconds
	StartTime           time.Time

	RoundsStarted   int64
	RoundsFinalized int64
	RoundsResynced  int64
	VotesAccepted   int64
	VotesDropped    int64

	LedgerCalls    int64
	LedgerFailures int64

	ResponseTimes      []time.Duration
	ResponseTimesMutex sync.RWMutex

	RequestCountByStatus map[int]int64
	StatusMutex          sync.RWMutex

	RateLimitIPBlocks    int64
	RateLimitVoterBlocks int64
	RateLimitRedisErrors int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:            time.Now(),
		ResponseTimes:        make([]time.Duration, 0, 1000),
		RequestCountByStatus: make(map[int]int64),
	}
}

// IncrementRequest increments the request count
func (m *Metrics) IncrementRequest() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementError increments the error count
func (m *Metrics) IncrementError() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// IncrementCacheHit increments cache hit count
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
}

// IncrementCacheMiss increments cache miss count
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
}

// IncrementGitHubCalls increments GitHub API call count
func (m *Metrics) IncrementGitHubCalls() {
	atomic.AddInt64(&m.GitHubAPICalls, 1)
}

// IncrementRoundStarted counts a round that reached the store
func (m *Metrics) IncrementRoundStarted() {
	atomic.AddInt64(&m.RoundsStarted, 1)
}

// IncrementRoundFinalized counts a round whose final scores were persisted
func (m *Metrics) IncrementRoundFinalized() {
	atomic.AddInt64(&m.RoundsFinalized, 1)
}

// IncrementRoundResynced counts a resync of on-chain results
func (m *Metrics) IncrementRoundResynced() {
	atomic.AddInt64(&m.RoundsResynced, 1)
}

// RecordVotes counts accepted and dropped votes of one batch
func (m *Metrics) RecordVotes(accepted, dropped int) {
	atomic.AddInt64(&m.VotesAccepted, int64(accepted))
	atomic.AddInt64(&m.VotesDropped, int64(dropped))
}

// RecordLedgerCall counts a ledger call and whether it failed
func (m *Metrics) RecordLedgerCall(success bool) {
	atomic.AddInt64(&m.LedgerCalls, 1)
	if !success {
		atomic.AddInt64(&m.LedgerFailures, 1)
	}
}

// RecordResponseTime records response time for averaging and percentiles
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	current := atomic.LoadInt64(&m.AverageResponseTime)
	newAverage := (current + duration.Nanoseconds()) / 2
	atomic.StoreInt64(&m.AverageResponseTime, newAverage)

	// keep the last 1000 samples
	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = append(m.ResponseTimes, duration)
	if len(m.ResponseTimes) > 1000 {
		m.ResponseTimes = m.ResponseTimes[1:]
	}
	m.ResponseTimesMutex.Unlock()
}

// RecordRequestByStatus records request count by HTTP status code
func (m *Metrics) RecordRequestByStatus(statusCode int) {
	m.StatusMutex.Lock()
	defer m.StatusMutex.Unlock()
	m.RequestCountByStatus[statusCode]++
}

// IncrementRateLimitIPBlock increments IP-based rate limit blocks
func (m *Metrics) IncrementRateLimitIPBlock() {
	atomic.AddInt64(&m.RateLimitIPBlocks, 1)
}

// IncrementRateLimitVoterBlock increments voter-based rate limit blocks
func (m *Metrics) IncrementRateLimitVoterBlock() {
	atomic.AddInt64(&m.RateLimitVoterBlocks, 1)
}

// IncrementRateLimitRedisError increments Redis error count for rate limiting
func (m *Metrics) IncrementRateLimitRedisError() {
	atomic.AddInt64(&m.RateLimitRedisErrors, 1)
}

// GetPercentileResponseTime calculates percentile response time
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	m.ResponseTimesMutex.RLock()
	defer m.ResponseTimesMutex.RUnlock()

	if len(m.ResponseTimes) == 0 {
		return 0
	}

	times := make([]time.Duration, len(m.ResponseTimes))
	copy(times, m.ResponseTimes)
	sort.Slice(times, func(i, j int) bool {
		return times[i] < times[j]
	})

	index := int(float64(len(times)-1) * percentile / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index]
}

// GetStatusCodeDistribution returns request count by status code
func (m *Metrics) GetStatusCodeDistribution() map[int]int64 {
	m.StatusMutex.RLock()
	defer m.StatusMutex.RUnlock()

	distribution := make(map[int]int64, len(m.RequestCountByStatus))
	for code, count := range m.RequestCountByStatus {
		distribution[code] = count
	}
	return distribution
}

// GetStats returns current metrics statistics
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)
	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	cacheHitRate := float64(0)
	if total := cacheHits + cacheMisses; total > 0 {
		cacheHitRate = float64(cacheHits) / float64(total) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":         time.Since(m.StartTime).Seconds(),
		"total_requests":         requests,
		"error_count":            errors,
		"error_rate_percent":     errorRate,
		"cache_hits":             cacheHits,
		"cache_misses":           cacheMisses,
		"cache_hit_rate_percent": cacheHitRate,
		"github_api_calls":       atomic.LoadInt64(&m.GitHubAPICalls),
		"avg_response_time_ms":   float64(atomic.LoadInt64(&m.AverageResponseTime)) / 1000000,
		"start_time":             m.StartTime.Format(time.RFC3339),

		"p50_response_time_ms":     float64(m.GetPercentileResponseTime(50)) / 1000000,
		"p95_response_time_ms":     float64(m.GetPercentileResponseTime(95)) / 1000000,
		"status_code_distribution": m.GetStatusCodeDistribution(),

		"rounds_started":   atomic.LoadInt64(&m.RoundsStarted),
		"rounds_finalized": atomic.LoadInt64(&m.RoundsFinalized),
		"rounds_resynced":  atomic.LoadInt64(&m.RoundsResynced),
		"votes_accepted":   atomic.LoadInt64(&m.VotesAccepted),
		"votes_dropped":    atomic.LoadInt64(&m.VotesDropped),
		"ledger_calls":     atomic.LoadInt64(&m.LedgerCalls),
		"ledger_failures":  atomic.LoadInt64(&m.LedgerFailures),

		"rate_limit": map[string]interface{}{
			"ip_blocks":    atomic.LoadInt64(&m.RateLimitIPBlocks),
			"voter_blocks": atomic.LoadInt64(&m.RateLimitVoterBlocks),
			"redis_errors": atomic.LoadInt64(&m.RateLimitRedisErrors),
		},
	}
}

// Reset resets all metrics (useful for testing)
func (m *Metrics) Reset() {
	for _, counter := range []*int64{
		&m.RequestCount, &m.ErrorCount, &m.CacheHits, &m.CacheMisses,
		&m.GitHubAPICalls, &m.AverageResponseTime,
		&m.RoundsStarted, &m.RoundsFinalized, &m.RoundsResynced,
		&m.VotesAccepted, &m.VotesDropped, &m.LedgerCalls, &m.LedgerFailures,
		&m.RateLimitIPBlocks, &m.RateLimitVoterBlocks, &m.RateLimitRedisErrors,
	} {
		atomic.StoreInt64(counter, 0)
	}

	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = m.ResponseTimes[:0]
	m.ResponseTimesMutex.Unlock()

	m.StatusMutex.Lock()
	m.RequestCountByStatus = make(map[int]int64)
	m.StatusMutex.Unlock()

	m.StartTime = time.Now()
}
