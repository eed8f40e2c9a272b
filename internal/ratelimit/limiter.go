// Package ratelimit throttles requests per account, the way the management
// API throttles its callers. The fake API uses it so the client's own request
// pacing can be exercised against a server that answers 429.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the throttling configuration.
type Config struct {
	RPS             float64       // Sustained requests per second per account
	Burst           int           // Requests allowed back to back
	CleanupInterval time.Duration // How often idle limiters are dropped
}

// DefaultConfig mirrors the management API's per-account allowance.
var DefaultConfig = Config{
	RPS:             15,
	Burst:           15,
	CleanupInterval: time.Hour,
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// RateLimiter keeps one token bucket per account.
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	config   Config

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine. Call
// Stop to release it.
func NewRateLimiter(config Config) *RateLimiter {
	if config.Burst < 1 {
		config.Burst = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig.CleanupInterval
	}
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		config:   config,
		stopCh:   make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request from account may proceed now.
func (rl *RateLimiter) Allow(account string) bool {
	return rl.GetLimiter(account).Allow()
}

// GetLimiter returns the bucket for account, creating it on first use.
func (rl *RateLimiter) GetLimiter(account string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[account]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.config.RPS), rl.config.Burst)}
		rl.limiters[account] = entry
	}
	entry.lastUsed = time.Now()
	return entry.limiter
}

// Cleanup drops limiters idle for longer than the cleanup interval.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.config.CleanupInterval)
	for account, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, account)
		}
	}
}

func (rl *RateLimiter) cleanupLoop() {
	defer rl.wg.Done()

	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop ends the cleanup goroutine and waits for it.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
	rl.wg.Wait()
}

// Len returns the number of tracked accounts.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
