package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/lightforgemedia/go-swell/pkg/client"
	"github.com/lightforgemedia/go-swell/pkg/jsonrpc"
)

// ErrFakeClosed is returned by writes on a closed FakeTransport.
var ErrFakeClosed = errors.New("fake transport closed")

// FakeClock records scheduled callbacks and fires them on demand.
type FakeClock struct {
	mu     sync.Mutex
	timers []*FakeTimer
}

// FakeTimer is a callback scheduled on a FakeClock.
type FakeTimer struct {
	clock   *FakeClock
	Delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

// NewFakeClock returns a clock with no timers.
func NewFakeClock() *FakeClock {
	return &FakeClock{}
}

// AfterFunc implements client.Clock.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) client.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &FakeTimer{clock: c, Delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Stop implements client.Timer.
func (t *FakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Pending returns the delays of timers that are neither stopped nor fired.
func (c *FakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.Delay)
		}
	}
	return out
}

// Scheduled returns the delays of every timer ever scheduled, in order.
func (c *FakeClock) Scheduled() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.timers))
	for i, t := range c.timers {
		out[i] = t.Delay
	}
	return out
}

// FireAll runs every pending timer on the calling goroutine and returns how
// many ran.
func (c *FakeClock) FireAll() int {
	c.mu.Lock()
	var due []*FakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// FakeTransport is an in-memory client.Transport.
type FakeTransport struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	sent     [][]byte
	writeErr error
}

// NewFakeTransport returns an open transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

// Read implements client.Transport. Queued frames are returned before a close
// is reported.
func (t *FakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-t.inbound:
		return f, nil
	default:
	}
	select {
	case f := <-t.inbound:
		return f, nil
	case <-t.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements client.Transport.
func (t *FakeTransport) Write(_ context.Context, frame []byte) error {
	if t.IsClosed() {
		return ErrFakeClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	t.sent = append(t.sent, append([]byte(nil), frame...))
	return nil
}

// Close implements client.Transport.
func (t *FakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Drop simulates the remote end hanging up.
func (t *FakeTransport) Drop() { t.Close() }

// IsClosed reports whether the transport was closed by either side.
func (t *FakeTransport) IsClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// FailWrites makes every later write return err.
func (t *FakeTransport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Deliver queues a raw inbound frame.
func (t *FakeTransport) Deliver(frame string) {
	t.inbound <- []byte(frame)
}

// DeliverJSON marshals v and queues it as an inbound frame.
func (t *FakeTransport) DeliverJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.inbound <- b
	return nil
}

// Sent returns copies of the frames written so far.
func (t *FakeTransport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentRequests decodes the written frames as requests.
func (t *FakeTransport) SentRequests() ([]jsonrpc.Request, error) {
	var out []jsonrpc.Request
	for _, f := range t.Sent() {
		var req jsonrpc.Request
		if err := json.Unmarshal(f, &req); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// FakeDialer hands out FakeTransports and can be told to fail or stall.
type FakeDialer struct {
	mu         sync.Mutex
	dials      int
	failures   []error
	gate       chan struct{}
	transports []*FakeTransport
}

// NewFakeDialer returns a dialer that always succeeds.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// Dial implements client.Dialer.
func (d *FakeDialer) Dial(ctx context.Context, _ string) (client.Transport, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return nil, err
	}
	t := NewFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

// FailNext makes the next dial return err. Calls queue up.
func (d *FakeDialer) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, err)
}

// Hold makes dials block until release is called.
func (d *FakeDialer) Hold() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			d.gate = nil
			d.mu.Unlock()
			close(gate)
		})
	}
}

// Dials returns how many dials were attempted.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Transports returns every transport handed out.
func (d *FakeDialer) Transports() []*FakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeTransport, len(d.transports))
	copy(out, d.transports)
	return out
}

// Last returns the most recent transport, or nil.
func (d *FakeDialer) Last() *FakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}
