package procmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotRunning is returned for requests against a manager that is not running.
	ErrNotRunning = errors.New("server is not running")

	// ErrStopped rejects requests that were in flight when the server was stopped.
	ErrStopped = errors.New("server stopped before responding")
)

// TimeoutError reports a request whose deadline elapsed. Retrying is safe.
type TimeoutError struct {
	Server  string
	Method  string
	ID      int64
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("server %q: request %d (%s) timed out after %v", e.Server, e.ID, e.Method, e.Timeout)
}

// ServerError is a protocol-level error returned by the server. Message is verbatim.
type ServerError struct {
	Server  string
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *ServerError) Error() string {
	return e.Message
}

// ProcessError reports a spawn, I/O, or exit failure of the subprocess.
type ProcessError struct {
	Server string
	Op     string // spawn | ready | write | exit | restart
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("server %q: %s: %v", e.Server, e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
