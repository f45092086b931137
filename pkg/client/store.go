package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lightforgemedia/go-swell/pkg/jsonrpc"
	"github.com/lightforgemedia/go-swell/pkg/observable"
)

// Reducer computes the next state from the current one and a response result.
type Reducer[T any] func(state T, result json.RawMessage) (T, error)

// Reduce adapts a typed reducer. The result is decoded into R first; a decode
// failure is reported like a missing result.
func Reduce[T, R any](fn func(state T, result R) T) Reducer[T] {
	return func(state T, raw json.RawMessage) (T, error) {
		var result R
		if err := json.Unmarshal(raw, &result); err != nil {
			return state, err
		}
		return fn(state, result), nil
	}
}

type storeConfig struct {
	prefix  string
	onError func(error)
	logger  *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

// WithPrefix routes only messages whose id starts with prefix to the store.
// Without a prefix the store receives every message no prefixed store claims.
func WithPrefix(prefix string) StoreOption {
	return func(c *storeConfig) { c.prefix = prefix }
}

// WithErrorHandler registers the callback that receives protocol and
// application errors. Without one those errors are only logged at debug level.
func WithErrorHandler(fn func(error)) StoreOption {
	return func(c *storeConfig) { c.onError = fn }
}

// WithStoreLogger sets the store's logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(c *storeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Store is reducer-driven state fed by responses arriving on a Connection.
type Store[T any] struct {
	conn     *Connection
	cfg      storeConfig
	reducers map[string]Reducer[T]
	requests *Correlator

	state   *observable.Value[T]
	loaders *observable.Map[bool]
	errors  *observable.Map[error]

	initial    interface{} // JSON form of the initial value; nil if it has none
	hasInitial bool

	unsubscribe func()
	closed      atomic.Bool
	closeOnce   sync.Once
}

// reservedErrorKey names the error callback, which is set with
// WithErrorHandler and never routed as a method.
const reservedErrorKey = "error"

// NewStore creates a store over conn holding initial and registers its
// message handler. reducers maps a method name to the reducer applied to its
// successful responses. The key "error" is reserved for the error callback:
// an entry under it is ignored with a warning, and errors go to the function
// given to WithErrorHandler.
func NewStore[T any](conn *Connection, initial T, reducers map[string]Reducer[T], opts ...StoreOption) *Store[T] {
	cfg := storeConfig{logger: conn.cfg.logger}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store[T]{
		conn:     conn,
		cfg:      cfg,
		reducers: make(map[string]Reducer[T], len(reducers)),
		requests: NewCorrelator(),
		state:    observable.NewValue(initial),
		loaders:  observable.NewMap[bool](),
		errors:   observable.NewMap[error](),
	}
	for method, r := range reducers {
		if method == reservedErrorKey {
			cfg.logger.Warn(`ignoring reducer for reserved method "error"; use WithErrorHandler`, "connection", conn.id, "prefix", cfg.prefix)
			continue
		}
		s.reducers[method] = r
	}
	if b, err := json.Marshal(initial); err == nil {
		if err := json.Unmarshal(b, &s.initial); err == nil {
			s.hasInitial = true
		}
	}

	s.unsubscribe = conn.Subscribe(cfg.prefix, s.handle)
	return s
}

// Get returns the current state.
func (s *Store[T]) Get() T { return s.state.Get() }

// Subscribe calls fn with the current state and after every change.
func (s *Store[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	return s.state.Subscribe(fn)
}

// Loaders maps request-local ids to true while a request is in flight. Flags
// are cleared by a successful response or Reset; an error response leaves them.
func (s *Store[T]) Loaders() *observable.Map[bool] { return s.loaders }

// Errors maps request-local ids to the error of their latest failed response.
// Entries stay until Reset or a later successful response.
func (s *Store[T]) Errors() *observable.Map[error] { return s.errors }

// Pending returns the number of correlated requests still waiting.
func (s *Store[T]) Pending() int { return s.requests.Pending() }

// Dispatch sends a correlated request and returns its status handle. The wire
// id is "{method}:{localID}"; without localID the store's counter is used.
// loaders[localID] is set before the request is sent.
func (s *Store[T]) Dispatch(method string, params interface{}, localID ...string) (*StatusHandle, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	local := ""
	if len(localID) > 0 {
		local = localID[0]
	}
	if strings.Contains(method, ":") || strings.Contains(local, ":") {
		return nil, fmt.Errorf("dispatch %q: %w", method, ErrInvalidMethod)
	}
	raw, err := marshalParams(method, params)
	if err != nil {
		return nil, err
	}

	id, local, h := s.requests.Begin(method, local)
	frame, err := encodeRequest(method, id, raw)
	if err != nil {
		s.requests.Resolve(id, err)
		return nil, err
	}
	s.loaders.Set(local, true)
	s.conn.Send(frame)
	return h, nil
}

// Fire sends an uncorrelated request whose id is the bare method. No status
// handle is created; loaders[method] is set until a successful response.
func (s *Store[T]) Fire(method string, params interface{}) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if strings.Contains(method, ":") {
		return fmt.Errorf("fire %q: %w", method, ErrInvalidMethod)
	}
	raw, err := marshalParams(method, params)
	if err != nil {
		return err
	}
	frame, err := encodeRequest(method, method, raw)
	if err != nil {
		return err
	}
	s.loaders.Set(method, true)
	s.conn.Send(frame)
	return nil
}

// Close unregisters the store from its connection. The connection closes its
// transport when this was the last subscription.
func (s *Store[T]) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.unsubscribe()
	})
}

func (s *Store[T]) handle(resp *jsonrpc.Response) {
	if s.isInitialEcho(resp) {
		return
	}
	id := string(resp.ID)
	if id == "" {
		s.report(&ProtocolError{Err: ErrMissingID})
		return
	}
	method, local := jsonrpc.SplitID(id)
	reducer, ok := s.reducers[method]
	if !ok {
		s.report(&ProtocolError{ID: id, Err: ErrNoHandler})
		return
	}
	if resp.HasError() {
		payload := append(json.RawMessage(nil), resp.Error...)
		s.reject(id, local, &ApplicationError{ID: id, Payload: payload})
		return
	}
	if jsonrpc.IsFalsy(resp.Result) {
		s.reject(id, local, &ProtocolError{ID: id, Err: ErrMissingResult})
		return
	}

	next, err := reducer(s.state.Get(), resp.Result)
	if err != nil {
		s.reject(id, local, &ProtocolError{ID: id, Err: fmt.Errorf("%w: %v", ErrDecodeResult, err)})
		return
	}
	s.loaders.Delete(local)
	s.errors.Delete(local)
	// state first, so a waiter woken by Resolve observes it
	s.state.Set(next)
	s.requests.Resolve(id, nil)
}

// isInitialEcho reports whether the frame is structurally the initial value.
func (s *Store[T]) isInitialEcho(resp *jsonrpc.Response) bool {
	if !s.hasInitial || len(resp.Raw) == 0 {
		return false
	}
	var frame interface{}
	if err := json.Unmarshal(resp.Raw, &frame); err != nil {
		return false
	}
	return reflect.DeepEqual(frame, s.initial)
}

func (s *Store[T]) reject(id, local string, err error) {
	s.report(err)
	s.errors.Set(local, err)
	s.requests.Resolve(id, err)
}

func (s *Store[T]) report(err error) {
	if s.cfg.onError != nil {
		s.cfg.onError(err)
		return
	}
	s.cfg.logger.Debug("store error without handler", "connection", s.conn.id, "prefix", s.cfg.prefix, "error", err)
}

func marshalParams(method string, params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("dispatch %q: marshal params: %w", method, err)
	}
	return b, nil
}

func encodeRequest(method, id string, params json.RawMessage) ([]byte, error) {
	req, err := jsonrpc.NewRequest(method, id, params)
	if err != nil {
		return nil, err
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch %q: encode request: %w", method, err)
	}
	return frame, nil
}
