package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mattjoyce/mcphub/internal/log"
)

// ErrRateLimitExceeded rejects a call whose client has used up its window.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

const (
	DefaultMaxRequests     = 60
	DefaultWindow          = 60 * time.Second
	DefaultCleanupInterval = 60 * time.Second
)

// RateLimiter keeps a sliding window of request timestamps per client key.
type RateLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string][]time.Time
}

// LimiterOption configures a RateLimiter.
type LimiterOption func(*RateLimiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) LimiterOption {
	return func(r *RateLimiter) { r.now = now }
}

// NewRateLimiter allows max calls per window per client. Non-positive values use the defaults.
func NewRateLimiter(max int, window time.Duration, opts ...LimiterOption) *RateLimiter {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	r := &RateLimiter{
		max:     max,
		window:  window,
		now:     time.Now,
		clients: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow records a call for key, or returns ErrRateLimitExceeded when the key
// already has max calls inside the window. Rejected calls are not recorded.
func (r *RateLimiter) Allow(key string) error {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	stamps := prune(r.clients[key], now.Add(-r.window))
	if len(stamps) >= r.max {
		r.clients[key] = stamps
		return ErrRateLimitExceeded
	}
	r.clients[key] = append(stamps, now)
	return nil
}

// Max returns the number of calls allowed per window.
func (r *RateLimiter) Max() int { return r.max }

// Remaining returns how many calls key may still make in the current window.
func (r *RateLimiter) Remaining(key string) int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.max - len(prune(r.clients[key], now.Add(-r.window)))
	if n < 0 {
		return 0
	}
	return n
}

// Cleanup drops clients with no calls inside the window and returns how many were removed.
func (r *RateLimiter) Cleanup() int {
	cutoff := r.now().Add(-r.window)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, stamps := range r.clients {
		stamps = prune(stamps, cutoff)
		if len(stamps) == 0 {
			delete(r.clients, key)
			removed++
			continue
		}
		r.clients[key] = stamps
	}
	return removed
}

// Clients returns the number of tracked client keys.
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Run calls Cleanup every interval until ctx is done.
func (r *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	logger := log.WithComponent("ratelimit")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Cleanup(); n > 0 {
				logger.Debug("purged idle clients", "removed", n)
			}
		}
	}
}

// prune drops timestamps at or before cutoff. stamps is in ascending order.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}
