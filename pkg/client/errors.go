package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lightforgemedia/go-swell/pkg/jsonrpc"
)

var (
	// ErrMissingID is reported for an inbound message without an id.
	ErrMissingID = errors.New("response id is undefined")
	// ErrNoHandler is reported when no reducer is registered for a method.
	ErrNoHandler = errors.New("no handler for id")
	// ErrMissingResult is reported for a response whose result is absent or falsy.
	ErrMissingResult = errors.New("result is undefined")
	// ErrDecodeResult is reported when a reducer cannot decode a result.
	ErrDecodeResult = errors.New("result could not be decoded")
	// ErrDuplicateID rejects a pending request replaced by a new one with the same id.
	ErrDuplicateID = errors.New("request id reused while pending")
	// ErrConnectionClosed rejects an open operation aborted by Close.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store is closed")
	// ErrInvalidMethod is returned for method or local ids that contain ':'.
	ErrInvalidMethod = errors.New("method and local id must not contain ':'")
)

// ProtocolError describes a malformed or unroutable inbound message.
type ProtocolError struct {
	ID  string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.ID == "" {
		return "protocol error: " + e.Err.Error()
	}
	return fmt.Sprintf("protocol error for id %q: %v", e.ID, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ApplicationError carries the error member of a response. Its payload is
// opaque to the client and kept exactly as received.
type ApplicationError struct {
	ID      string
	Payload json.RawMessage
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("application error for id %q: %s", e.ID, jsonrpc.DescribeError(e.Payload))
}

// Object decodes the payload when it has the conventional JSON-RPC error shape.
func (e *ApplicationError) Object() (jsonrpc.ErrorObject, bool) {
	return jsonrpc.ParseError(e.Payload)
}
