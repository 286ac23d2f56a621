package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(cm *CompressionMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(cm.Handler())
	r.GET("/large", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"entries": strings.Repeat("alice ", 500)})
	})
	r.GET("/small", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})
	r.GET("/empty", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestCompression_LargeJSON(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := newRouter(cm)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/large", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"entries":"alice alice`)

	stats := cm.GetStats()
	assert.Equal(t, int64(1), stats["compressed_requests"])
	assert.Less(t, stats["compression_ratio"].(float64), 0.5)
}

func TestCompression_SmallResponseKeepsStatus(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := newRouter(cm)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/small", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Equal(t, int64(0), cm.GetStats()["compressed_requests"])
}

func TestCompression_EmptyBody(t *testing.T) {
	r := newRouter(NewCompressionMiddleware(DefaultCompressionConfig()))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/empty", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestCompression_ClientWithoutGzip(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := newRouter(cm)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/large", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Contains(t, w.Body.String(), "alice")
	assert.Equal(t, int64(0), cm.GetStats()["total_requests"])
}

func TestCompressionStats(t *testing.T) {
	stats := NewCompressionStats()
	assert.Equal(t, float64(1), stats.GetStats()["compression_ratio"])

	stats.RecordRequest(1000, 300, true)
	stats.RecordRequest(1000, 1000, false)

	got := stats.GetStats()
	assert.Equal(t, int64(2), got["total_requests"])
	assert.Equal(t, int64(1), got["compressed_requests"])
	assert.InDelta(t, 0.65, got["compression_ratio"].(float64), 1e-9)
}
