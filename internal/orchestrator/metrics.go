package orchestrator

import "sync"

// Metrics is a snapshot of orchestrator counters.
type Metrics struct {
	TotalRequests  int64 `json:"total_requests"`
	FailedRequests int64 `json:"failed_requests"`
	// AverageResponseMS is smoothed as (previous + sample) / 2, so it favours recent samples.
	AverageResponseMS float64 `json:"average_response_ms"`
	ServersStarted    int64   `json:"servers_started"`
	Restarts          int64   `json:"restarts"`
}

type counters struct {
	mu      sync.Mutex
	m       Metrics
	sampled bool
}

func (c *counters) requestSent() {
	c.mu.Lock()
	c.m.TotalRequests++
	c.mu.Unlock()
}

func (c *counters) requestFailed() {
	c.mu.Lock()
	c.m.FailedRequests++
	c.mu.Unlock()
}

func (c *counters) responseTime(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sampled {
		c.m.AverageResponseMS = ms
		c.sampled = true
		return
	}
	c.m.AverageResponseMS = (c.m.AverageResponseMS + ms) / 2
}

func (c *counters) serverStarted() {
	c.mu.Lock()
	c.m.ServersStarted++
	c.mu.Unlock()
}

func (c *counters) restarted() {
	c.mu.Lock()
	c.m.Restarts++
	c.mu.Unlock()
}

func (c *counters) snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}
