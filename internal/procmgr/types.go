package procmgr

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a managed server process.
type Status string

// Server statuses.
const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// StartOptions tune a single Start call.
type StartOptions struct {
	// Env is merged over the server's configured environment.
	Env map[string]string
	// ReadyTimeout bounds the wait for a live process. Zero uses the manager default.
	ReadyTimeout time.Duration
}

// Info is a point-in-time snapshot of a manager.
type Info struct {
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	Runtime     string     `json:"runtime,omitempty"`
	Priority    string     `json:"priority"`
	Description string     `json:"description,omitempty"`
	AutoStart   bool       `json:"auto_start"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Retries     int        `json:"retries"`
	MaxRetries  int        `json:"max_retries"`
	PID         int        `json:"pid,omitempty"`
	UptimeMS    int64      `json:"uptime_ms"`
	Pending     int        `json:"pending_requests"`
	LastError   string     `json:"last_error,omitempty"`
}

// Uptime returns the uptime as a duration.
func (i Info) Uptime() time.Duration {
	return time.Duration(i.UptimeMS) * time.Millisecond
}

// Health is the result of a liveness probe.
type Health struct {
	Name       string          `json:"name"`
	Status     Status          `json:"status"`
	Healthy    bool            `json:"healthy"`
	Responsive bool            `json:"responsive"`
	UptimeMS   int64           `json:"uptime_ms"`
	LatencyMS  int64           `json:"latency_ms,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CheckedAt  time.Time       `json:"checked_at"`
}

// Observer receives lifecycle notifications from a Manager.
// Calls are made without the manager lock held, possibly from different goroutines.
type Observer interface {
	// StateChanged reports every status transition.
	StateChanged(server string, from, to Status)
	// Started reports a successful spawn.
	Started(server string, pid int)
	// Stopped reports completion of an explicit stop.
	Stopped(server string)
	// Failed reports a spawn failure or an unexpected exit.
	Failed(server string, err error)
	// RestartScheduled reports a backoff restart; attempt is 1-based.
	RestartScheduled(server string, attempt int, delay time.Duration)
}

// NopObserver ignores every notification. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) StateChanged(string, Status, Status)         {}
func (NopObserver) Started(string, int)                         {}
func (NopObserver) Stopped(string)                              {}
func (NopObserver) Failed(string, error)                        {}
func (NopObserver) RestartScheduled(string, int, time.Duration) {}
