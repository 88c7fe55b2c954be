package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded means the running-server ceiling has been reached.
	ErrCapacityExceeded = errors.New("maximum concurrent servers reached")

	// ErrNotReady is returned for operations on an orchestrator that is not ready.
	ErrNotReady = errors.New("orchestrator is not ready")
)

// ConfigurationError reports an unusable configuration found during Initialize.
type ConfigurationError struct {
	Server string
	Path   string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("configuration: server %q: %s: %v", e.Server, e.Path, e.Err)
	}
	return fmt.Sprintf("configuration: %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// UnknownServerError reports a server name with no registered manager.
type UnknownServerError struct {
	Name string
}

func (e *UnknownServerError) Error() string {
	return fmt.Sprintf("unknown server %q", e.Name)
}
