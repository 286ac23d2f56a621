package monitoring

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

// MonitoringMiddleware creates Gin middleware for request monitoring
func MonitoringMiddleware(metrics *Metrics, logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.IncrementRequest()

		if c.GetHeader(RequestIDHeader) == "" {
			c.Request.Header.Set(RequestIDHeader, uuid.NewString())
		}
		c.Header(RequestIDHeader, c.GetHeader(RequestIDHeader))

		ip := c.ClientIP()
		method := c.Request.Method
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		metrics.RecordResponseTime(duration)
		metrics.RecordRequestByStatus(statusCode)
		if statusCode >= 400 {
			metrics.IncrementError()
		}

		logger.RequestLogger(method, path, ip, c.GetHeader("User-Agent"), statusCode, duration)

		for _, err := range c.Errors {
			logger.APIErrorLogger(err.Err, method, path, ip, statusCode)
		}

		// ledger calls are bounded by their own timeout; anything slower is worth a look
		if duration > 90*time.Second {
			logger.SystemLogger("slow_request", fmt.Sprintf("%s %s took %s", method, path, duration))
		}
	}
}
