package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/groundtruth-ai/restaurant-chat/internal/config"
)

// idleTimeout is how long a client's limiter is kept without traffic
const idleTimeout = time.Hour

// RateLimiter applies a token bucket per client key to message submissions
type RateLimiter struct {
	config  config.RateLimitConfig
	clients map[string]*clientLimiter
	mu      sync.Mutex
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  cfg,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow reports whether a submission from key may proceed
func (r *RateLimiter) Allow(key string) bool {
	if !r.config.Enabled {
		return true
	}

	now := r.now()
	return r.limiterFor(key, now).AllowN(now, 1)
}

func (r *RateLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, exists := r.clients[key]
	if !exists {
		burst := r.config.Burst
		if burst <= 0 {
			burst = 1
		}
		client = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(r.config.RequestsPerMin)/60.0), burst),
		}
		r.clients[key] = client
	}
	client.lastSeen = now
	return client.limiter
}

// Tracked returns the number of clients with a live limiter
func (r *RateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Cleanup removes limiters idle for longer than an hour
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idleTimeout)
	for key, client := range r.clients {
		if client.lastSeen.Before(cutoff) {
			delete(r.clients, key)
		}
	}
}

// StartCleanupRoutine runs Cleanup periodically until ctx is cancelled
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Cleanup()
			}
		}
	}()
}
