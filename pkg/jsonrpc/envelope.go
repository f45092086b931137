// jsonrpc/envelope.go
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Version is the only protocol tag this package speaks.
const Version = "2.0"

// ErrorObject is the conventional JSON-RPC shape of an "error" member. The
// client treats error members as opaque; ParseError decodes one for display
// when it happens to have this shape or is a bare string.
type ErrorObject struct {
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e ErrorObject) String() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return e.Message
}

// ParseError decodes an error member as an ErrorObject. A bare string becomes
// Message. ok is false for any other shape.
func ParseError(raw json.RawMessage) (obj ErrorObject, ok bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ErrorObject{}, false
	}
	switch trimmed[0] {
	case '"':
		var msg string
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return ErrorObject{}, false
		}
		return ErrorObject{Message: msg}, true
	case '{':
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return ErrorObject{}, false
		}
		return obj, true
	}
	return ErrorObject{}, false
}

// DescribeError renders an error member for humans: the parsed message when
// it has one, the raw JSON text otherwise.
func DescribeError(raw json.RawMessage) string {
	if obj, ok := ParseError(raw); ok && obj.Message != "" {
		return obj.String()
	}
	return string(bytes.TrimSpace(raw))
}

// ID is a response id. Servers may echo string or numeric ids; numbers keep
// their decimal text form.
type ID string

// UnmarshalJSON accepts a string, a number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*id = ""
		return nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("jsonrpc: id must be a string or number: %w", err)
		}
		*id = ID(n.String())
		return nil
	}
}

// Request is an outbound envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      string          `json:"id"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an inbound envelope. There is no method member; completion is
// inferred from ID. Error is kept undecoded since servers put anything there.
type Response struct {
	ID     ID              `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`

	// Raw is the frame the response was decoded from.
	Raw json.RawMessage `json:"-"`
}

// NewRequest builds an outbound envelope. A nil params value is omitted from
// the wire form.
func NewRequest(method, id string, params interface{}) (*Request, error) {
	var raw json.RawMessage
	if params != nil {
		switch p := params.(type) {
		case json.RawMessage:
			raw = p
		default:
			b, err := json.Marshal(params)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal params for method %q: %w", method, err)
			}
			raw = b
		}
	}
	return &Request{JSONRPC: Version, Method: method, ID: id, Params: raw}, nil
}

// DecodeResponse parses one inbound frame.
func DecodeResponse(frame []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, fmt.Errorf("jsonrpc: decode response: %w", err)
	}
	resp.Raw = append(json.RawMessage(nil), frame...)
	return &resp, nil
}

// HasError reports whether the error member is present and truthy. null,
// false, 0 and "" count as no error.
func (r *Response) HasError() bool {
	return !IsFalsy(r.Error)
}

// DecodeResult unmarshals the result member into v (must be a pointer).
func (r *Response) DecodeResult(v interface{}) error {
	if len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// CorrelatedID joins a method and a request-local id into the wire id.
func CorrelatedID(method, localID string) string {
	return method + ":" + localID
}

// SplitID splits a wire id on ":". Only an id with exactly two parts is
// correlated; any other id is both the method and the local id.
func SplitID(id string) (method, localID string) {
	parts := strings.Split(id, ":")
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return id, id
}

// IsFalsy reports whether a result member counts as missing: absent, null,
// false, 0 or the empty string.
func IsFalsy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true
	}
	switch string(trimmed) {
	case "null", "false", `""`:
		return true
	}
	if f, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		return f == 0
	}
	return false
}
