// Package middleware holds HTTP middleware shared by the API routes
package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	MinSize          int      // Minimum response size to compress (bytes)
	CompressionLevel int      // Gzip compression level (1-9, 9 is best compression)
	ContentTypes     []string // Content types to compress
}

// DefaultCompressionConfig returns the default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:          1024,
		CompressionLevel: gzip.DefaultCompression,
		ContentTypes: []string{
			"application/json",
			"text/plain",
		},
	}
}

// CompressionMiddleware provides gzip compression for HTTP responses
type CompressionMiddleware struct {
	config CompressionConfig
	stats  *CompressionStats
	pool   sync.Pool
}

// NewCompressionMiddleware creates a new compression middleware
func NewCompressionMiddleware(config CompressionConfig) *CompressionMiddleware {
	if config.CompressionLevel < gzip.HuffmanOnly || config.CompressionLevel > gzip.BestCompression {
		config.CompressionLevel = gzip.DefaultCompression
	}
	cm := &CompressionMiddleware{
		config: config,
		stats:  NewCompressionStats(),
	}
	cm.pool.New = func() interface{} {
		gz, _ := gzip.NewWriterLevel(io.Discard, cm.config.CompressionLevel)
		return gz
	}
	return cm
}

// Handler returns a Gin middleware that buffers the response and gzips it when it is large enough
func (cm *CompressionMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") || c.Request.Method == "HEAD" {
			c.Next()
			return
		}

		original := c.Writer
		bw := &bufferedWriter{ResponseWriter: original}
		c.Writer = bw
		c.Header("Vary", "Accept-Encoding")

		c.Next()

		c.Writer = original
		if bw.passthrough {
			return
		}

		body := bw.buf.Bytes()
		header := original.Header()
		if len(body) < cm.config.MinSize ||
			header.Get("Content-Encoding") != "" ||
			!cm.shouldCompress(header.Get("Content-Type")) {
			cm.stats.RecordRequest(int64(len(body)), int64(len(body)), false)
			cm.writeRaw(original, body)
			return
		}

		var out bytes.Buffer
		gz := cm.getGzipWriter(&out)
		_, err := gz.Write(body)
		if err == nil {
			err = gz.Close()
		}
		cm.pool.Put(gz)
		if err != nil {
			slog.Error("Response compression failed", "path", c.Request.URL.Path, "error", err)
			cm.writeRaw(original, body)
			return
		}

		header.Set("Content-Encoding", "gzip")
		header.Set("Content-Length", strconv.Itoa(out.Len()))
		cm.stats.RecordRequest(int64(len(body)), int64(out.Len()), true)
		cm.writeRaw(original, out.Bytes())
	}
}

func (cm *CompressionMiddleware) writeRaw(w gin.ResponseWriter, body []byte) {
	if len(body) == 0 {
		w.WriteHeaderNow()
		return
	}
	if _, err := w.Write(body); err != nil {
		slog.Debug("Response write failed", "error", err)
	}
}

// shouldCompress checks if the content type should be compressed
func (cm *CompressionMiddleware) shouldCompress(contentType string) bool {
	for _, ct := range cm.config.ContentTypes {
		if strings.Contains(contentType, ct) {
			return true
		}
	}
	return false
}

// getGzipWriter gets a gzip writer from the pool
func (cm *CompressionMiddleware) getGzipWriter(w io.Writer) *gzip.Writer {
	gz := cm.pool.Get().(*gzip.Writer)
	gz.Reset(w)
	return gz
}

// bufferedWriter holds the body until the handler chain returns.
// A flush switches it to passthrough so streamed responses are never held back.
type bufferedWriter struct {
	gin.ResponseWriter
	buf         bytes.Buffer
	passthrough bool
}

func (bw *bufferedWriter) Write(data []byte) (int, error) {
	if bw.passthrough {
		return bw.ResponseWriter.Write(data)
	}
	return bw.buf.Write(data)
}

func (bw *bufferedWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

func (bw *bufferedWriter) Written() bool {
	return bw.buf.Len() > 0 || bw.ResponseWriter.Written()
}

func (bw *bufferedWriter) Size() int {
	if bw.passthrough {
		return bw.ResponseWriter.Size()
	}
	if bw.buf.Len() == 0 {
		return bw.ResponseWriter.Size()
	}
	return bw.buf.Len()
}

func (bw *bufferedWriter) Flush() {
	if !bw.passthrough {
		bw.passthrough = true
		if bw.buf.Len() > 0 {
			_, _ = bw.ResponseWriter.Write(bw.buf.Bytes())
			bw.buf.Reset()
		}
	}
	bw.ResponseWriter.Flush()
}

// CompressionStats tracks compression statistics
type CompressionStats struct {
	TotalRequests      int64
	CompressedRequests int64
	TotalBytes         int64
	CompressedBytes    int64
	mutex              sync.RWMutex
}

// NewCompressionStats creates new compression statistics
func NewCompressionStats() *CompressionStats {
	return &CompressionStats{}
}

// RecordRequest records a request's compression stats
func (cs *CompressionStats) RecordRequest(originalSize, compressedSize int64, compressed bool) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.TotalRequests++
	cs.TotalBytes += originalSize
	if compressed {
		cs.CompressedRequests++
		cs.CompressedBytes += compressedSize
	} else {
		cs.CompressedBytes += originalSize
	}
}

// GetStats returns current compression statistics
func (cs *CompressionStats) GetStats() map[string]interface{} {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	compressionRatio := float64(1)
	if cs.TotalBytes > 0 {
		compressionRatio = float64(cs.CompressedBytes) / float64(cs.TotalBytes)
	}

	return map[string]interface{}{
		"total_requests":      cs.TotalRequests,
		"compressed_requests": cs.CompressedRequests,
		"total_bytes":         cs.TotalBytes,
		"compressed_bytes":    cs.CompressedBytes,
		"compression_ratio":   compressionRatio,
		"compression_savings": 1.0 - compressionRatio,
	}
}

// GetStats returns compression statistics
func (cm *CompressionMiddleware) GetStats() map[string]interface{} {
	return cm.stats.GetStats()
}
