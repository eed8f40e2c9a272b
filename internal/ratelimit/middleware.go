package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
)

// DefaultRetryAfterSeconds is the Retry-After value sent with a 429.
const DefaultRetryAfterSeconds = 1

// ThrottledDetail is the error detail of a throttled response.
const ThrottledDetail = "Request was throttled."

// AccountKey identifies the caller by its X-API-KEY header, falling back to
// the remote address for anonymous calls such as login.
func AccountKey(r *http.Request) string {
	if key := r.Header.Get("X-API-KEY"); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// RateLimitMiddleware answers 429 with a JSON detail, Retry-After and
// X-RateLimit-Remaining once the caller's bucket is empty. A nil limiter
// disables throttling.
func RateLimitMiddleware(limiter *RateLimiter, account func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			bucket := limiter.GetLimiter(account(r))
			if !bucket.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"detail": ThrottledDetail})
				return
			}

			remaining := max(int(bucket.Tokens()), 0)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			next.ServeHTTP(w, r)
		})
	}
}
