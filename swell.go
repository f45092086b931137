// Package swell is a reconnecting JSON-RPC over WebSocket client.
//
// A Connection owns one lazily opened socket that reopens with backoff while
// anything is subscribed. Stores share a Connection; each dispatches
// correlated requests and folds matching responses into its state with
// per-method reducers.
//
//	conn := swell.Connect("ws://localhost:3000/samples/ws/todos")
//	todos := swell.NewStore(conn, []Todo{}, map[string]client.Reducer[[]Todo]{
//		"todos/list": client.Reduce(func(_ []Todo, list []Todo) []Todo { return list }),
//	}, swell.WithPrefix("todos/"))
//	h, _ := todos.Dispatch("todos/list", nil)
//	err := h.Wait(ctx)
package swell

import (
	"github.com/lightforgemedia/go-swell/pkg/backoff"
	"github.com/lightforgemedia/go-swell/pkg/client"
	"github.com/lightforgemedia/go-swell/pkg/jsonrpc"
)

// Re-export core types
type (
	Connection    = client.Connection
	Option        = client.Option
	Options       = client.Options
	StoreOption   = client.StoreOption
	StatusHandle  = client.StatusHandle
	RequestStatus = client.RequestStatus
	Event         = client.Event
	State         = client.State
	Response      = jsonrpc.Response
	Request       = jsonrpc.Request
	Sequence      = backoff.Sequence
)

// Re-export error types
var (
	ErrMissingID        = client.ErrMissingID
	ErrNoHandler        = client.ErrNoHandler
	ErrMissingResult    = client.ErrMissingResult
	ErrDecodeResult     = client.ErrDecodeResult
	ErrDuplicateID      = client.ErrDuplicateID
	ErrConnectionClosed = client.ErrConnectionClosed
	ErrStoreClosed      = client.ErrStoreClosed
	ErrInvalidMethod    = client.ErrInvalidMethod
)

// Connection states
const (
	StateClosed     = client.StateClosed
	StateConnecting = client.StateConnecting
	StateOpen       = client.StateOpen
)

// Re-export option constructors
var (
	WithLogger       = client.WithLogger
	WithDialer       = client.WithDialer
	WithDialTimeout  = client.WithDialTimeout
	WithWriteTimeout = client.WithWriteTimeout
	WithBackoff      = client.WithBackoff
	WithMetrics      = client.WithMetrics
	WithPrefix       = client.WithPrefix
	WithErrorHandler = client.WithErrorHandler
)

// Connect returns a Connection to url. Nothing is dialed until the first
// subscription or send. Call Shutdown when the connection is no longer needed.
func Connect(url string, opts ...client.Option) *client.Connection {
	return client.NewConnection(url, opts...)
}

// NewStore creates a Store over conn.
func NewStore[T any](conn *client.Connection, initial T, reducers map[string]client.Reducer[T], opts ...client.StoreOption) *client.Store[T] {
	return client.NewStore(conn, initial, reducers, opts...)
}

// Method builds a "{resource}/{op}" method name.
func Method(resource, op string) string {
	return jsonrpc.Method(resource, op)
}
