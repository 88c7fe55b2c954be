package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// EncodeRequest serializes a Request as a single newline-terminated JSON line and writes it to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Method == "" {
		return fmt.Errorf("request method is required")
	}
	if req.Version == "" {
		req.Version = Version
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	// json.Encoder terminates each value with '\n' and escapes embedded newlines.
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

// wireResponse mirrors what servers write; fields are raw so presence can be detected.
type wireResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// ParseLine classifies one line of server stdout. It never fails: anything that is not a
// JSON object with a result or error member comes back as KindUnparseable.
func ParseLine(line string) Message {
	msg := Message{Kind: KindUnparseable, Raw: line}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed[0] != '{' {
		return msg
	}

	var resp wireResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return msg
	}

	if id, ok := parseID(resp.ID); ok {
		msg.ID = id
		msg.HasID = true
	}

	switch {
	case present(resp.Error):
		var eo ErrorObject
		if err := json.Unmarshal(resp.Error, &eo); err != nil {
			// Some servers send a bare string as the error.
			var s string
			if json.Unmarshal(resp.Error, &s) != nil {
				s = string(resp.Error)
			}
			eo = ErrorObject{Message: s}
		}
		if eo.Message == "" {
			eo.Message = "unknown server error"
		}
		msg.Kind = KindError
		msg.Error = &eo
	case resp.Result != nil:
		msg.Kind = KindResult
		msg.Result = resp.Result
	}

	return msg
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// parseID accepts integer ids, including integers that were sent back as strings.
func parseID(raw json.RawMessage) (int64, bool) {
	if !present(raw) {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var v int64
		if _, err := fmt.Sscan(s, &v); err == nil && fmt.Sprint(v) == s {
			return v, true
		}
	}
	return 0, false
}
