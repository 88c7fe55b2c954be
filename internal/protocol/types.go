package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the envelope version string written on every request.
const Version = "2.0"

// Request is the envelope written to a server's stdin, one JSON object per line.
type Request struct {
	Version string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// ErrorObject is the error member of an error response.
type ErrorObject struct {
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return e.Message
}

// Kind tags a parsed output line.
type Kind int

const (
	// KindUnparseable is anything that is not a JSON object: banners, stack traces, progress text.
	KindUnparseable Kind = iota
	// KindResult is a response carrying a result member.
	KindResult
	// KindError is a response carrying an error member.
	KindError
)

// String returns the string representation of a Kind
func (k Kind) String() string {
	switch k {
	case KindResult:
		return "result"
	case KindError:
		return "error"
	default:
		return "unparseable"
	}
}

// Message is one parsed line of server output.
//
// HasID is false for notifications and for objects whose id is absent or not an integer;
// such messages can never match a pending request.
type Message struct {
	Kind   Kind
	ID     int64
	HasID  bool
	Result json.RawMessage
	Error  *ErrorObject
	Raw    string
}
