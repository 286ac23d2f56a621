// Package security holds the HTTP hardening middleware of the API
package security

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
)

// SecurityConfig holds security configuration
type SecurityConfig struct {
	MaxIdentityLength int           `json:"max_identity_length"`
	MaxBodyBytes      int64         `json:"max_body_bytes"`
	AllowedOrigins    []string      `json:"allowed_origins"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	EnableHSTS        bool          `json:"enable_hsts"`
}

// DefaultSecurityConfig returns secure defaults.
// The request timeout covers a full round start, which waits on several mined transactions.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxIdentityLength: 100,
		MaxBodyBytes:      1 << 20,
		AllowedOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
		RequestTimeout:    5 * time.Minute,
	}
}

var (
	loginPattern    = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9]|-[A-Za-z0-9])*$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	addressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// SecurityMiddleware provides request validation and hardening
type SecurityMiddleware struct {
	config SecurityConfig
}

// NewSecurityMiddleware creates a new security middleware instance
func NewSecurityMiddleware(config SecurityConfig) *SecurityMiddleware {
	defaults := DefaultSecurityConfig()
	if config.MaxIdentityLength <= 0 {
		config.MaxIdentityLength = defaults.MaxIdentityLength
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	return &SecurityMiddleware{config: config}
}

// ValidateIdentity checks a username, source-hosting login or ledger address taken from a path or body
func (sm *SecurityMiddleware) ValidateIdentity(identity string) error {
	switch {
	case identity == "":
		return apperrors.NewValidationError("identity is required")
	case len(identity) > sm.config.MaxIdentityLength:
		return apperrors.NewValidationError("identity exceeds maximum length", sm.config.MaxIdentityLength)
	case !utf8.ValidString(identity) || strings.ContainsAny(identity, "\x00\r\n\t"):
		return apperrors.NewValidationError("identity contains invalid characters")
	}

	if strings.HasPrefix(identity, "0x") || strings.HasPrefix(identity, "0X") {
		if !addressPattern.MatchString(identity) {
			return apperrors.NewValidationError("invalid ledger address format", identity)
		}
		return nil
	}
	if !usernamePattern.MatchString(identity) {
		return apperrors.NewValidationError("invalid identity format", identity)
	}
	return nil
}

// ValidateLogin checks a source-hosting login
func (sm *SecurityMiddleware) ValidateLogin(login string) error {
	if len(login) == 0 || len(login) > 39 || !loginPattern.MatchString(login) {
		return apperrors.NewValidationError("invalid login format", login)
	}
	return nil
}

// SecurityHeaders adds security headers to responses
func (sm *SecurityMiddleware) SecurityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("Referrer-Policy", "no-referrer")
	c.Header("Cache-Control", "no-store")

	// swagger UI needs inline scripts and styles
	if strings.HasPrefix(c.Request.URL.Path, "/swagger/") {
		c.Header("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
	} else {
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	}

	if sm.config.EnableHSTS || c.Request.TLS != nil {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	c.Next()
}

// ValidateContentType requires a JSON body on writes
func (sm *SecurityMiddleware) ValidateContentType(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		c.Next()
		return
	}

	if c.Request.ContentLength == 0 {
		c.Next()
		return
	}

	if !strings.Contains(strings.ToLower(c.GetHeader("Content-Type")), "application/json") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error": "unsupported content type",
		})
		c.Abort()
		return
	}

	c.Next()
}

// LimitBody caps the request body size
func (sm *SecurityMiddleware) LimitBody(c *gin.Context) {
	if c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, sm.config.MaxBodyBytes)
	}
	c.Next()
}

// RequestTimeout enforces request timeout
func (sm *SecurityMiddleware) RequestTimeout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))

	c.Next()
}

// CORSConfig builds the CORS middleware for the configured origins
func (sm *SecurityMiddleware) CORSConfig() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(sm.config.AllowedOrigins) == 1 && sm.config.AllowedOrigins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = sm.config.AllowedOrigins
	}
	return cors.New(cfg)
}
