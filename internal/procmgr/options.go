package procmgr

import (
	"log/slog"
	"time"
)

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger used for lifecycle and subprocess output.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithReadyTimeout bounds the wait for a spawned process to report a pid.
func WithReadyTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.readyTimeout = d
	}
}

// WithGracePeriod sets the SIGTERM to SIGKILL escalation delay.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		m.gracePeriod = d
	}
}

// WithHealthTimeout sets the timeout of the liveness request sent by Health.
func WithHealthTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.healthTimeout = d
	}
}

// WithBackoffBase sets the unit of the restart backoff; delay is base * 2^attempt.
func WithBackoffBase(d time.Duration) Option {
	return func(m *Manager) {
		m.backoffBase = d
	}
}

// WithStableAfter sets how long an automatically restarted process must stay up
// before its retry count is cleared.
func WithStableAfter(d time.Duration) Option {
	return func(m *Manager) {
		m.stableAfter = d
	}
}

// WithMaxLineSize caps a single stdout line. Longer lines are discarded.
func WithMaxLineSize(n int) Option {
	return func(m *Manager) {
		m.maxLineSize = n
	}
}

// WithAdmission gates backoff restarts. The hook must call start to let the
// restart proceed; returning an error without calling it refuses the attempt,
// which then counts against the retry budget. An explicit Start is not gated.
func WithAdmission(admit func(start func() error) error) Option {
	return func(m *Manager) {
		m.admit = admit
	}
}
