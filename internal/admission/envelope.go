package admission

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mattjoyce/mcphub/internal/orchestrator"
	"github.com/mattjoyce/mcphub/internal/procmgr"
)

// Error codes carried in envelopes.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeRateLimited   = "RATE_LIMITED"
	CodeUnknownServer = "UNKNOWN_SERVER"
	CodeNotRunning    = "NOT_RUNNING"
	CodeCapacity      = "CAPACITY_EXCEEDED"
	CodeTimeout       = "TIMEOUT"
	CodeServerError   = "SERVER_ERROR"
	CodeProcessError  = "PROCESS_ERROR"
	CodeStopped       = "STOPPED"
	CodeConfiguration = "CONFIGURATION_ERROR"
	CodeNotReady      = "NOT_READY"
	CodeInternal      = "INTERNAL_ERROR"
)

// Envelope is the uniform response for every call.
type Envelope struct {
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     *EnvelopeError `json:"error,omitempty"`
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// EnvelopeError describes a failure.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPStatus maps the envelope to a status code.
func (e Envelope) HTTPStatus() int {
	if e.Success || e.Error == nil {
		return http.StatusOK
	}
	return StatusForCode(e.Error.Code)
}

// Success wraps data.
func Success(requestID string, data any) Envelope {
	return Envelope{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}

// Failure wraps err, classifying it with ErrorCode.
func Failure(requestID string, err error) Envelope {
	return Envelope{
		Success:   false,
		Error:     &EnvelopeError{Code: ErrorCode(err), Message: err.Error()},
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}

// ErrorCode classifies err. Unrecognised errors are INTERNAL_ERROR.
func ErrorCode(err error) string {
	var (
		validationErr *ValidationError
		unknownErr    *orchestrator.UnknownServerError
		configErr     *orchestrator.ConfigurationError
		timeoutErr    *procmgr.TimeoutError
		serverErr     *procmgr.ServerError
		processErr    *procmgr.ProcessError
	)
	switch {
	case errors.As(err, &validationErr):
		return CodeValidation
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimited
	case errors.As(err, &unknownErr):
		return CodeUnknownServer
	case errors.Is(err, procmgr.ErrNotRunning):
		return CodeNotRunning
	case errors.Is(err, orchestrator.ErrCapacityExceeded):
		return CodeCapacity
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.As(err, &serverErr):
		return CodeServerError
	case errors.As(err, &processErr):
		return CodeProcessError
	case errors.Is(err, procmgr.ErrStopped):
		return CodeStopped
	case errors.As(err, &configErr):
		return CodeConfiguration
	case errors.Is(err, orchestrator.ErrNotReady):
		return CodeNotReady
	default:
		return CodeInternal
	}
}

// StatusForCode returns the HTTP status for an error code.
func StatusForCode(code string) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnknownServer:
		return http.StatusNotFound
	case CodeNotRunning, CodeCapacity, CodeStopped:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeServerError, CodeProcessError:
		return http.StatusBadGateway
	case CodeNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
