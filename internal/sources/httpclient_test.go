package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient_Defaults(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{})

	assert.Equal(t, 30*time.Second, client.config.Timeout)
	assert.Equal(t, 10.0, client.config.RateLimit)
	assert.Equal(t, DefaultRetryPolicy(), client.retry)
	assert.NotEmpty(t, client.config.UserAgent)
}

func TestRetryPolicy(t *testing.T) {
	t.Run("delay doubles up to the cap", func(t *testing.T) {
		p := DefaultRetryPolicy()
		assert.Equal(t, 4*time.Second, p.Delay(0))
		assert.Equal(t, 8*time.Second, p.Delay(1))
		assert.Equal(t, 10*time.Second, p.Delay(2))
		assert.Equal(t, 10*time.Second, p.Delay(9))
	})

	t.Run("normalize fills zero fields", func(t *testing.T) {
		p := RetryPolicy{}.Normalize()
		assert.Equal(t, DefaultRetryPolicy(), p)
	})

	t.Run("normalize keeps explicit settings", func(t *testing.T) {
		p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 3}.Normalize()
		assert.Equal(t, 5, p.MaxAttempts)
		assert.Equal(t, time.Second, p.Delay(0))
		assert.Equal(t, 3*time.Second, p.Delay(1))
	})

	t.Run("cap never drops below the base delay", func(t *testing.T) {
		p := RetryPolicy{BaseDelay: 20 * time.Second, MaxDelay: 5 * time.Second}.Normalize()
		assert.Equal(t, 20*time.Second, p.MaxDelay)
	})
}

func TestHTTPClient_Do(t *testing.T) {
	t.Run("sets user agent and api key headers", func(t *testing.T) {
		var gotUA, gotKey string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUA = r.Header.Get("User-Agent")
			gotKey = r.Header.Get("x-api-key")
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:    1000,
			BurstSize:    1000,
			APIKey:       "secret",
			APIKeyHeader: "x-api-key",
		})

		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "Helixir-CitegraphService/1.0", gotUA)
		assert.Equal(t, "secret", gotKey)
	})

	t.Run("retries on 5xx then succeeds", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit: 1000,
			BurstSize: 1000,
			Retry:     RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		})

		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("backoff grows between attempts", func(t *testing.T) {
		var mu sync.Mutex
		var stamps []time.Time
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			stamps = append(stamps, time.Now())
			n := len(stamps)
			mu.Unlock()
			if n < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit: 1000,
			BurstSize: 1000,
			Retry:     RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, Multiplier: 2},
		})

		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, stamps, 3)
		first := stamps[1].Sub(stamps[0])
		second := stamps[2].Sub(stamps[1])
		assert.GreaterOrEqual(t, first, 45*time.Millisecond)
		assert.GreaterOrEqual(t, second, 90*time.Millisecond)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit: 1000,
			BurstSize: 1000,
			Retry:     RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		})

		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		assert.Nil(t, resp)
		assert.ErrorContains(t, err, "max retries exhausted")
	})

	t.Run("respects retry-after header in seconds", func(t *testing.T) {
		var calls int32
		var gap time.Duration
		var last time.Time
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				last = time.Now()
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			gap = time.Since(last)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit: 1000,
			BurstSize: 1000,
			Retry:     RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
		})

		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.GreaterOrEqual(t, gap, time.Second)
	})

	t.Run("does not retry non-retryable client errors", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit: 1000,
			BurstSize: 1000,
		})

		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("aborts when context is cancelled", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit: 1000,
			BurstSize: 1000,
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		_, err = client.Do(req)
		assert.Error(t, err)
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows up to burst immediately", func(t *testing.T) {
		rl := NewRateLimiter(1, 2)
		assert.True(t, rl.Allow())
		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())
	})

	t.Run("wait respects context cancellation", func(t *testing.T) {
		rl := NewRateLimiter(0.001, 1)
		require.NoError(t, rl.Wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.Error(t, rl.Wait(ctx))
	})

	t.Run("rate can be adjusted", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)
		rl.SetRate(100)
		assert.True(t, rl.Allow())
	})
}
