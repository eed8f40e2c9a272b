package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// =============================================================================
// Generators for property-based testing
// =============================================================================

func accountGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-f0-9]{8,40}`)
}

// slowConfig refills so slowly that no token comes back during a test.
func slowConfig(burst int) Config {
	return Config{RPS: 0.001, Burst: burst, CleanupInterval: time.Hour}
}

// =============================================================================
// Property: the burst is allowed, the request after it is not
// =============================================================================

func testRateLimiter_BurstThenBlocked(t *rapid.T) {
	burst := rapid.IntRange(1, 50).Draw(t, "burst")
	rl := NewRateLimiter(slowConfig(burst))
	defer rl.Stop()

	account := accountGenerator().Draw(t, "account")
	for i := range burst {
		if !rl.Allow(account) {
			t.Fatalf("request %d of burst %d was blocked", i+1, burst)
		}
	}
	if rl.Allow(account) {
		t.Fatalf("request after a burst of %d was allowed", burst)
	}
}

func TestRateLimiter_BurstThenBlocked(t *testing.T) {
	rapid.Check(t, testRateLimiter_BurstThenBlocked)
}

func FuzzRateLimiter_BurstThenBlocked(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testRateLimiter_BurstThenBlocked))
}

// =============================================================================
// Property: accounts have independent buckets
// =============================================================================

func testRateLimiter_AccountIndependence(t *rapid.T) {
	burst := rapid.IntRange(1, 20).Draw(t, "burst")
	rl := NewRateLimiter(slowConfig(burst))
	defer rl.Stop()

	a := accountGenerator().Draw(t, "a")
	b := accountGenerator().Filter(func(s string) bool { return s != a }).Draw(t, "b")

	for range burst {
		rl.Allow(a)
	}
	if rl.Allow(a) {
		t.Fatalf("account %q should be exhausted", a)
	}
	if !rl.Allow(b) {
		t.Fatalf("account %q was throttled by %q", b, a)
	}
	if rl.Len() != 2 {
		t.Fatalf("expected 2 tracked accounts, got %d", rl.Len())
	}
}

func TestRateLimiter_AccountIndependence(t *testing.T) {
	rapid.Check(t, testRateLimiter_AccountIndependence)
}

// =============================================================================
// Cleanup and concurrency
// =============================================================================

func TestRateLimiter_CleanupDropsIdle(t *testing.T) {
	rl := NewRateLimiter(Config{RPS: 1, Burst: 1, CleanupInterval: 20 * time.Millisecond})
	defer rl.Stop()

	rl.Allow("idle")
	require.Equal(t, 1, rl.Len())

	time.Sleep(30 * time.Millisecond)
	rl.Cleanup()
	require.Zero(t, rl.Len())
}

func TestRateLimiter_GetLimiterConsistency(t *testing.T) {
	rl := NewRateLimiter(DefaultConfig)
	defer rl.Stop()
	require.Same(t, rl.GetLimiter("acct"), rl.GetLimiter("acct"))
}

func TestRateLimiter_ConcurrentAccessNeverExceedsBurst(t *testing.T) {
	const burst = 25
	rl := NewRateLimiter(slowConfig(burst))
	defer rl.Stop()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if rl.Allow("shared") {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(burst), allowed.Load())
}

// =============================================================================
// Middleware
// =============================================================================

func TestRateLimitMiddleware_Answers429WithDetail(t *testing.T) {
	rl := NewRateLimiter(slowConfig(1))
	defer rl.Stop()

	handler := RateLimitMiddleware(rl, AccountKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1.1/instances/", nil)
	req.Header.Set("X-API-KEY", "k1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.JSONEq(t, `{"detail":"Request was throttled."}`, rec.Body.String())

	// Another key has its own bucket.
	req.Header.Set("X-API-KEY", "k2")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	handler := RateLimitMiddleware(nil, AccountKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for range 5 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1.1/account/auth/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAccountKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1.1/account/auth/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	require.Equal(t, "addr:10.0.0.7", AccountKey(req))

	req.Header.Set("X-API-KEY", "abc")
	require.Equal(t, "key:abc", AccountKey(req))
}
