package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Hour,
	})

	boom := errors.New("boom")
	assert.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	var cbErr *CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.False(t, called)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Call(func() error { return nil }))
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Millisecond,
		SuccessThreshold: 1,
	})

	_ = cb.Call(func() error { return errors.New("down") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	assert.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	reverted := errors.New("execution reverted")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, reverted) },
	})

	assert.ErrorIs(t, cb.Call(func() error { return reverted }), reverted)
	assert.Equal(t, StateClosed, cb.State())
}

func TestRetryWithConfig(t *testing.T) {
	t.Run("retries retryable errors", func(t *testing.T) {
		var attempts int32
		err := RetryWithPolicy(context.Background(), FastRetryPolicy, func() error {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return apperrors.NewNetworkError("flaky", nil)
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, int32(3), attempts)
	})

	t.Run("stops on non retryable", func(t *testing.T) {
		var attempts int32
		err := RetryWithPolicy(context.Background(), FastRetryPolicy, func() error {
			atomic.AddInt32(&attempts, 1)
			return apperrors.NewValidationError("bad")
		})
		assert.Error(t, err)
		assert.Equal(t, int32(1), attempts)
	})

	t.Run("persist policy retries plain errors", func(t *testing.T) {
		var attempts int32
		policy := PersistRetryPolicy
		policy.Config.InitialDelay = time.Millisecond
		err := RetryWithPolicy(context.Background(), policy, func() error {
			if atomic.AddInt32(&attempts, 1) < 2 {
				return errors.New("database is locked")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, int32(2), attempts)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := RetryWithPolicy(ctx, StandardRetryPolicy, func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConnectionPool_DoRequest(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "pool", FailureThreshold: 1, RecoveryTimeout: time.Hour})
	pool := NewConnectionPool(4, 8, time.Minute, cb)
	defer pool.Close()

	resp, err := pool.DoRequest(context.Background(), http.MethodGet, server.URL+"/ok", map[string]string{"X-Test": "yes"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = pool.DoRequest(context.Background(), http.MethodGet, server.URL+"/fail", map[string]string{"X-Test": "yes"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, StateOpen, cb.State())

	_, err = pool.DoRequest(context.Background(), http.MethodGet, server.URL+"/ok", map[string]string{"X-Test": "yes"})
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	stats := pool.GetStats()
	assert.Equal(t, int64(3), stats["total_requests"])
	assert.Equal(t, int64(1), stats["failed_requests"])
}
