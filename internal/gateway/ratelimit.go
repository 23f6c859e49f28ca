package gateway

import (
	"sync"
	"time"
)

// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
// memory exhaustion from attackers rotating source IPs.
const maxTrackedKeys = 4096

const rateLimitWindow = 60 * time.Second

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// RateLimiter bounds stream opens per client key within a sliding
// window, with a hard cap on tracked keys. Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	maxHits int
	entries map[string]*rateLimitEntry
}

// NewRateLimiter creates a limiter allowing maxHits per key per minute.
// maxHits <= 0 disables limiting.
func NewRateLimiter(maxHits int) *RateLimiter {
	return &RateLimiter{
		maxHits: maxHits,
		entries: make(map[string]*rateLimitEntry),
	}
}

// Enabled reports whether limiting is active.
func (r *RateLimiter) Enabled() bool { return r.maxHits > 0 }

// Allow returns true if the key is within rate limits. Stale entries are
// pruned when approaching the cap; at the cap, arbitrary entries are
// evicted rather than growing the map.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= rateLimitWindow {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= rateLimitWindow {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.maxHits
}
