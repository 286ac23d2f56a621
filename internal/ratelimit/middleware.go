package ratelimit

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
)

func setHeaders(c *gin.Context, prefix string, result *Result) {
	c.Header(prefix+"-Limit", strconv.Itoa(result.Limit))
	c.Header(prefix+"-Remaining", strconv.Itoa(result.Remaining))
	c.Header(prefix+"-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// IPRateLimitMiddleware creates middleware for IP-based rate limiting
func (rl *RateLimiter) IPRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := rl.AllowIP(c.Request.Context(), ip)
		if err != nil {
			// never block a request because the limiter failed
			slog.Error("Rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		setHeaders(c, "X-RateLimit", result)

		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitIPBlock()
			}
			retryAfter := strconv.Itoa(int(result.RetryAfter.Seconds()) + 1)
			c.Header("Retry-After", retryAfter)
			_ = c.Error(apperrors.NewRateLimitError(retryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}

// CheckVoter enforces the per-voter vote batch limit and returns a RateLimitError when exceeded
func (rl *RateLimiter) CheckVoter(ctx context.Context, address string) error {
	result, err := rl.AllowVoter(ctx, address)
	if err != nil {
		slog.Error("Voter rate limit check failed", "voter", address, "error", err)
		return nil
	}
	if !result.Allowed {
		return apperrors.NewRateLimitError(strconv.Itoa(int(result.RetryAfter.Seconds()) + 1))
	}
	return nil
}
