package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestLoggerWritesTimestampKey(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, slog.LevelInfo)

	logger.RoundLogger("acme/widgets", 7, "voting_opened", "participants", 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, entry, "timestamp")
	assert.Equal(t, "Round Event", entry["msg"])
	assert.Equal(t, "acme/widgets", entry["repository"])
	assert.Equal(t, float64(7), entry["round_id"])
	assert.Equal(t, float64(3), entry["participants"])
}

func TestLedgerLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, slog.LevelInfo)

	logger.LedgerLogger("finalize", "0xabc", time.Second, errors.New("execution reverted"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, false, entry["success"])
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.IncrementRoundStarted()
	m.IncrementRoundFinalized()
	m.RecordVotes(3, 1)
	m.RecordLedgerCall(true)
	m.RecordLedgerCall(false)
	m.IncrementCacheHit()
	m.IncrementCacheMiss()

	stats := m.GetStats()
	assert.Equal(t, int64(1), stats["rounds_started"])
	assert.Equal(t, int64(3), stats["votes_accepted"])
	assert.Equal(t, int64(1), stats["votes_dropped"])
	assert.Equal(t, int64(2), stats["ledger_calls"])
	assert.Equal(t, int64(1), stats["ledger_failures"])
	assert.Equal(t, float64(50), stats["cache_hit_rate_percent"])

	m.Reset()
	assert.Equal(t, int64(0), m.GetStats()["votes_accepted"])
}

func TestPercentileResponseTime(t *testing.T) {
	m := NewMetrics()
	assert.Zero(t, m.GetPercentileResponseTime(95))

	for i := 1; i <= 10; i++ {
		m.RecordResponseTime(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, 9*time.Millisecond, m.GetPercentileResponseTime(95))
}

func TestMonitoringMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := NewMetrics()
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, slog.LevelInfo)

	router := gin.New()
	router.Use(MonitoringMiddleware(metrics, logger))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	for _, path := range []string{"/ok", "/bad"} {
		w := httptest.NewRecorder()
		req, err := http.NewRequest(http.MethodGet, path, nil)
		require.NoError(t, err)
		router.ServeHTTP(w, req)
		assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	}

	assert.Equal(t, int64(2), metrics.RequestCount)
	assert.Equal(t, int64(1), metrics.ErrorCount)
	assert.Equal(t, map[int]int64{200: 1, 400: 1}, metrics.GetStatusCodeDistribution())
}
