// Package metrics exports orchestrator activity to Prometheus.
package metrics

import "time"

// Request outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Collector records orchestrator activity.
type Collector interface {
	// RequestCompleted records one tool request and its latency.
	RequestCompleted(server, outcome string, duration time.Duration)

	// StateTransition records a server status change.
	StateTransition(server, from, to string)

	// RestartScheduled records an automatic restart attempt.
	RestartScheduled(server string, delay time.Duration)

	// ServersRunning sets the number of running servers.
	ServersRunning(n int)

	// RateLimited records a rejected call.
	RateLimited()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RequestCompleted(string, string, time.Duration) {}
func (Nop) StateTransition(string, string, string)         {}
func (Nop) RestartScheduled(string, time.Duration)         {}
func (Nop) ServersRunning(int)                             {}
func (Nop) RateLimited()                                   {}

var _ Collector = Nop{}
