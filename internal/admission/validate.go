package admission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Operation names a mutating call that carries a body.
type Operation string

const (
	OpStart   Operation = "start"
	OpStop    Operation = "stop"
	OpRequest Operation = "request"
)

// MaxRequestTimeout bounds timeout_ms on tool requests.
const MaxRequestTimeout = 10 * time.Minute

// ValidationError reports a structurally invalid body.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// StartBody is the optional body of a start call.
type StartBody struct {
	Env            map[string]string `json:"env,omitempty"`
	ReadyTimeoutMS int64             `json:"ready_timeout_ms,omitempty"`
}

// ReadyTimeout converts ReadyTimeoutMS.
func (b StartBody) ReadyTimeout() time.Duration {
	return time.Duration(b.ReadyTimeoutMS) * time.Millisecond
}

// StopBody is the optional body of a stop call.
type StopBody struct {
	Force bool `json:"force,omitempty"`
}

// RequestBody is the body of a tool request.
type RequestBody struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMS int64           `json:"timeout_ms,omitempty"`
}

// Timeout converts TimeoutMS. Zero means the server default.
func (b RequestBody) Timeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

// ParamsMap decodes Params. Absent or null params yield an empty map.
func (b RequestBody) ParamsMap() (map[string]any, error) {
	out := map[string]any{}
	if isNull(b.Params) {
		return out, nil
	}
	if err := json.Unmarshal(b.Params, &out); err != nil {
		return nil, &ValidationError{Field: "params", Message: "must be an object"}
	}
	return out, nil
}

// Validate checks body for op without keeping the decoded value.
func Validate(op Operation, body []byte) error {
	var err error
	switch op {
	case OpStart:
		_, err = ParseStart(body)
	case OpStop:
		_, err = ParseStop(body)
	case OpRequest:
		_, err = ParseRequest(body)
	default:
		err = &ValidationError{Message: fmt.Sprintf("unknown operation %q", op)}
	}
	return err
}

// ParseStart decodes and validates a start body. An empty body is valid.
func ParseStart(body []byte) (StartBody, error) {
	var b StartBody
	if err := decodeStrict(body, &b); err != nil {
		return b, err
	}
	if b.ReadyTimeoutMS < 0 {
		return b, &ValidationError{Field: "ready_timeout_ms", Message: "must not be negative"}
	}
	for k := range b.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return b, &ValidationError{Field: "env", Message: fmt.Sprintf("invalid variable name %q", k)}
		}
	}
	return b, nil
}

// ParseStop decodes a stop body. An empty body is valid.
func ParseStop(body []byte) (StopBody, error) {
	var b StopBody
	err := decodeStrict(body, &b)
	return b, err
}

// ParseRequest decodes and validates a tool request body.
func ParseRequest(body []byte) (RequestBody, error) {
	var b RequestBody
	if len(bytes.TrimSpace(body)) == 0 {
		return b, &ValidationError{Message: "body is required"}
	}
	if err := decodeStrict(body, &b); err != nil {
		return b, err
	}
	if strings.TrimSpace(b.Method) == "" {
		return b, &ValidationError{Field: "method", Message: "is required"}
	}
	if !isNull(b.Params) && bytes.TrimSpace(b.Params)[0] != '{' {
		return b, &ValidationError{Field: "params", Message: "must be an object"}
	}
	if b.TimeoutMS < 0 || time.Duration(b.TimeoutMS)*time.Millisecond > MaxRequestTimeout {
		return b, &ValidationError{Field: "timeout_ms", Message: fmt.Sprintf("must be between 1 and %d", MaxRequestTimeout.Milliseconds())}
	}
	return b, nil
}

func decodeStrict(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ValidationError{Message: describeDecodeError(err)}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &ValidationError{Message: "body must contain a single JSON object"}
	}
	return nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field == "" {
			return "body must be a JSON object"
		}
		return fmt.Sprintf("%s: expected %s", typeErr.Field, typeErr.Type)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	}
	return err.Error()
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
