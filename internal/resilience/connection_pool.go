package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// ConnectionPool is a shared HTTP client with a tuned transport and circuit breaker integration
type ConnectionPool struct {
	maxIdle     int
	maxActive   int
	idleTimeout time.Duration

	circuitBreaker *CircuitBreaker
	transport      *http.Transport
	client         *http.Client

	inFlight int64
	total    int64
	failed   int64
}

// NewConnectionPool creates a new connection pool with circuit breaker
func NewConnectionPool(maxIdle, maxActive int, idleTimeout time.Duration, cb *CircuitBreaker) *ConnectionPool {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          maxIdle,
		MaxConnsPerHost:       maxActive,
		MaxIdleConnsPerHost:   maxIdle / 2,
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &ConnectionPool{
		maxIdle:        maxIdle,
		maxActive:      maxActive,
		idleTimeout:    idleTimeout,
		circuitBreaker: cb,
		transport:      transport,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}
}

// HTTPError represents an upstream response the breaker counts as a failure
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned %s", e.Status)
}

// DoRequest executes an HTTP request with circuit breaker protection.
// 5xx responses count against the breaker but are still returned to the caller.
func (cp *ConnectionPool) DoRequest(ctx context.Context, method, url string, headers map[string]string) (*http.Response, error) {
	return cp.Do(ctx, method, url, headers, nil)
}

// Do is DoRequest with an optional request body
func (cp *ConnectionPool) Do(ctx context.Context, method, url string, headers map[string]string, body io.Reader) (*http.Response, error) {
	var resp *http.Response

	atomic.AddInt64(&cp.inFlight, 1)
	atomic.AddInt64(&cp.total, 1)
	defer atomic.AddInt64(&cp.inFlight, -1)

	err := cp.circuitBreaker.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return err
		}

		for key, value := range headers {
			req.Header.Set(key, value)
		}

		start := time.Now()
		resp, err = cp.client.Do(req)
		duration := time.Since(start)

		if err != nil {
			slog.Warn("Request failed", "url", url, "error", err, "duration_ms", duration.Milliseconds())
			return err
		}

		slog.Debug("Request completed", "url", url, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

		if resp.StatusCode >= http.StatusInternalServerError {
			return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
		}
		return nil
	})

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && resp != nil {
		return resp, nil
	}
	if err != nil {
		atomic.AddInt64(&cp.failed, 1)
		return nil, err
	}

	return resp, nil
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"in_flight":             atomic.LoadInt64(&cp.inFlight),
		"total_requests":        atomic.LoadInt64(&cp.total),
		"failed_requests":       atomic.LoadInt64(&cp.failed),
		"max_idle":              cp.maxIdle,
		"max_active":            cp.maxActive,
		"idle_timeout_ms":       cp.idleTimeout.Milliseconds(),
		"circuit_breaker_state": cp.circuitBreaker.State().String(),
	}
}

// Close releases idle connections
func (cp *ConnectionPool) Close() error {
	cp.transport.CloseIdleConnections()
	slog.Info("Connection pool closed")
	return nil
}
