package client

import (
	"context"
	"strconv"
	"sync"

	"github.com/lightforgemedia/go-swell/pkg/jsonrpc"
	"github.com/lightforgemedia/go-swell/pkg/observable"
)

// RequestStatus is the state of one correlated request.
type RequestStatus struct {
	Pending   bool
	Fulfilled bool
	Rejected  error
}

// StatusHandle observes one correlated request. It settles exactly once and
// keeps its final value afterwards.
type StatusHandle struct {
	id    string
	value *observable.Value[RequestStatus]
	done  chan struct{}
	once  sync.Once
}

func newStatusHandle(id string) *StatusHandle {
	return &StatusHandle{
		id:    id,
		value: observable.NewValue(RequestStatus{Pending: true}),
		done:  make(chan struct{}),
	}
}

// ID returns the wire id of the request.
func (h *StatusHandle) ID() string { return h.id }

// Status returns the current status.
func (h *StatusHandle) Status() RequestStatus { return h.value.Get() }

// Subscribe calls fn with the current status and again when it settles.
func (h *StatusHandle) Subscribe(fn func(RequestStatus)) (unsubscribe func()) {
	return h.value.Subscribe(fn)
}

// Done is closed when the request settles.
func (h *StatusHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the request settles or ctx is done. It returns the
// rejection error, nil when fulfilled, or ctx.Err().
func (h *StatusHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.value.Get().Rejected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *StatusHandle) settle(err error) bool {
	settled := false
	h.once.Do(func() {
		settled = true
		if err != nil {
			h.value.Set(RequestStatus{Rejected: err})
		} else {
			h.value.Set(RequestStatus{Fulfilled: true})
		}
		close(h.done)
	})
	return settled
}

// Correlator issues request ids and tracks the requests still waiting for a
// response. Each store owns one, so counters never collide across stores
// sharing a connection unless their methods do.
type Correlator struct {
	mu      sync.Mutex
	counter uint64
	live    map[string]*StatusHandle
}

// NewCorrelator returns an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{live: make(map[string]*StatusHandle)}
}

// Begin advances the counter and records a pending request. An empty localID
// defaults to the new counter value. The wire id is "{method}:{localID}".
func (c *Correlator) Begin(method, localID string) (id, local string, h *StatusHandle) {
	c.mu.Lock()
	c.counter++
	if localID == "" {
		localID = strconv.FormatUint(c.counter, 10)
	}
	id = jsonrpc.CorrelatedID(method, localID)
	prev := c.live[id]
	h = newStatusHandle(id)
	c.live[id] = h
	c.mu.Unlock()

	if prev != nil {
		prev.settle(&ProtocolError{ID: id, Err: ErrDuplicateID})
	}
	return id, localID, h
}

// Resolve settles the request with id: fulfilled when err is nil, rejected
// otherwise. It reports whether a pending request was found.
func (c *Correlator) Resolve(id string, err error) bool {
	c.mu.Lock()
	h, ok := c.live[id]
	delete(c.live, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	return h.settle(err)
}

// Pending returns the number of unsettled requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// Counter returns the number of ids issued so far.
func (c *Correlator) Counter() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}
