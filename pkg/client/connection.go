// Package client implements a reconnecting JSON-RPC 2.0 client over one
// WebSocket, shared by any number of reducer-driven stores.
package client

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lightforgemedia/go-swell/pkg/jsonrpc"
)

// openOp is one in-flight open. Every caller that asks to open while it runs
// shares it.
type openOp struct {
	done chan struct{}
	err  error
}

func (o *openOp) finish(err error) {
	o.err = err
	close(o.done)
}

// Connection owns a single transport and reopens it with backoff while at
// least one subscription exists.
type Connection struct {
	id     string
	url    string
	cfg    connConfig
	router *Router
	events *eventHub

	mu              sync.Mutex
	state           State
	transport       Transport
	transportCancel context.CancelFunc
	wake            chan struct{} // signals the current write pump
	pending         *openOp
	dialCancel      context.CancelFunc
	reopenAttempt   uint
	reopenTimer     Timer
	reopenGen       uint64
	outbox          [][]byte
	shutdown        bool
}

// NewConnection creates a Connection to url. Nothing is dialed until the first
// subscription or send.
func NewConnection(url string, opts ...Option) *Connection {
	cfg := defaultConnConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Connection{
		id:     uuid.NewString(),
		url:    url,
		cfg:    cfg,
		router: NewRouter(),
		events: newEventHub(cfg.eventBuffer),
	}
	c.cfg.metrics.state(c.id, StateClosed)
	return c
}

// ID returns the unique id of this connection.
func (c *Connection) ID() string { return c.id }

// URL returns the endpoint this connection dials.
func (c *Connection) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReopenAttempt returns the attempt number the next reopen delay will use.
func (c *Connection) ReopenAttempt() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reopenAttempt
}

// Subscriptions returns the number of registered handlers.
func (c *Connection) Subscriptions() int {
	return c.router.Len()
}

// Open dials the transport unless it is already open. Concurrent callers share
// one dial. ctx only bounds how long the caller waits.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	op := c.openLocked()
	c.mu.Unlock()
	if op == nil {
		return nil
	}
	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// openLocked starts or joins an open. It returns nil when already open.
func (c *Connection) openLocked() *openOp {
	c.stopReopenTimerLocked()
	if c.shutdown {
		op := &openOp{done: make(chan struct{})}
		op.finish(ErrConnectionClosed)
		return op
	}
	if c.state == StateOpen {
		return nil
	}
	if c.pending != nil {
		return c.pending
	}

	op := &openOp{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	c.pending = op
	c.dialCancel = cancel
	c.state = StateConnecting
	c.cfg.logger.Info("connection opening", "connection", c.id, "url", c.url)
	c.emit(Event{Kind: EventConnecting, State: StateConnecting})

	go c.dial(ctx, op)
	return op
}

func (c *Connection) dial(ctx context.Context, op *openOp) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.dialTimeout)
	t, err := c.cfg.dialer.Dial(dialCtx, c.url)
	cancel()
	c.cfg.metrics.dial(err)

	c.mu.Lock()
	if c.pending != op {
		// Close aborted this open while it was dialing.
		c.mu.Unlock()
		if t != nil {
			t.Close()
		}
		return
	}
	c.pending = nil
	c.dialCancel = nil

	if err != nil {
		c.state = StateClosed
		if n := len(c.outbox); n > 0 {
			c.cfg.logger.Debug("dropping queued frames after failed open", "connection", c.id, "frames", n)
			c.outbox = nil
		}
		c.cfg.logger.Warn("connection open failed", "connection", c.id, "url", c.url, "error", err)
		c.emit(Event{Kind: EventOpenFailed, State: StateClosed, Err: err})
		op.finish(err)
		c.scheduleReopenLocked()
		c.mu.Unlock()
		return
	}

	tctx, tcancel := context.WithCancel(context.Background())
	wake := make(chan struct{}, 1)
	c.transport = t
	c.transportCancel = tcancel
	c.wake = wake
	c.state = StateOpen
	c.reopenAttempt = 0
	if len(c.outbox) > 0 {
		wake <- struct{}{}
	}
	go c.readPump(tctx, t)
	go c.writePump(tctx, t, wake)

	c.cfg.logger.Info("connection open", "connection", c.id, "url", c.url)
	c.emit(Event{Kind: EventOpen, State: StateOpen})
	op.finish(nil)
	c.mu.Unlock()
}

// Close cancels any scheduled reopen, aborts an in-flight dial and closes the
// transport. It never schedules a reopen and is safe to call repeatedly.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeSocketLocked()
}

// Shutdown closes the connection for good: the transport is closed, watchers
// are released and later opens fail with ErrConnectionClosed. A Connection
// that is only closed with Close keeps its event hub goroutine until Shutdown.
func (c *Connection) Shutdown() error {
	c.mu.Lock()
	c.shutdown = true
	err := c.closeSocketLocked()
	c.mu.Unlock()

	c.events.shutdown()
	return err
}

func (c *Connection) closeSocketLocked() error {
	c.stopReopenTimerLocked()

	wasClosed := c.state == StateClosed
	var err error
	if c.pending != nil {
		c.dialCancel()
		c.pending.finish(ErrConnectionClosed)
		c.pending = nil
		c.dialCancel = nil
	}
	if c.transport != nil {
		c.transportCancel()
		err = c.transport.Close()
		c.transport = nil
		c.transportCancel = nil
		c.wake = nil
	}
	c.outbox = nil
	c.state = StateClosed
	if !wasClosed {
		c.cfg.logger.Info("connection closed", "connection", c.id)
		c.emit(Event{Kind: EventClosed, State: StateClosed})
	}
	return err
}

func (c *Connection) stopReopenTimerLocked() {
	if c.reopenTimer != nil {
		c.reopenTimer.Stop()
		c.reopenTimer = nil
	}
}

// scheduleReopenLocked runs whenever a transport goes away on its own. With no
// subscriptions left the connection stays closed.
func (c *Connection) scheduleReopenLocked() {
	c.closeSocketLocked()
	if c.router.Len() == 0 {
		c.cfg.logger.Debug("not reopening, no subscriptions", "connection", c.id)
		return
	}

	attempt := c.reopenAttempt
	delay := c.cfg.backoff.NextDelay(attempt)
	c.reopenAttempt++
	c.reopenGen++
	gen := c.reopenGen
	c.reopenTimer = c.cfg.clock.AfterFunc(delay, func() { c.reopen(gen) })

	c.cfg.metrics.reopenScheduled()
	c.cfg.logger.Info("connection reopen scheduled", "connection", c.id, "attempt", attempt, "delay", delay)
	c.emit(Event{Kind: EventReopenScheduled, State: StateClosed, Attempt: attempt, Delay: delay})
}

func (c *Connection) reopen(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reopenTimer == nil || gen != c.reopenGen {
		return // cancelled or superseded
	}
	c.reopenTimer = nil
	c.openLocked()
}

// Send queues frame for writing and returns immediately. When the transport is
// not open an open is started and the frame goes out once it succeeds; if the
// open fails the frame is dropped.
func (c *Connection) Send(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		c.cfg.logger.Debug("dropping frame sent after shutdown", "connection", c.id)
		return
	}
	c.outbox = append(c.outbox, frame)
	if c.state == StateOpen {
		select {
		case c.wake <- struct{}{}:
		default:
		}
		return
	}
	c.openLocked()
}

// Subscribe registers h for messages whose id starts with prefix, or as a
// global handler when prefix is empty. The first subscription dials the
// transport. Removing the last subscription closes it without reopening.
func (c *Connection) Subscribe(prefix string, h Handler) (remove func()) {
	removeRoute := c.router.Handle(prefix, h)

	c.mu.Lock()
	if c.state == StateClosed && c.reopenTimer == nil {
		c.openLocked()
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			removeRoute()
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.router.Len() == 0 {
				c.closeSocketLocked()
			}
		})
	}
}

func (c *Connection) readPump(ctx context.Context, t Transport) {
	for {
		frame, err := t.Read(ctx)
		if err != nil {
			c.transportClosed(t, err)
			return
		}
		c.onMessage(frame)
	}
}

func (c *Connection) transportClosed(t Transport, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != t {
		return // closed on purpose or already replaced
	}
	c.cfg.logger.Warn("transport closed", "connection", c.id, "error", err)
	c.scheduleReopenLocked()
}

func (c *Connection) onMessage(frame []byte) {
	c.cfg.metrics.received()
	resp, err := jsonrpc.DecodeResponse(frame)
	if err != nil {
		c.cfg.metrics.dropped()
		c.cfg.logger.Debug("dropping undecodable frame", "connection", c.id, "error", err, "frame", string(frame))
		return
	}
	d := c.router.Route(resp)
	c.cfg.metrics.routed(d)
	if d.Prefixed == 0 && d.Global == 0 {
		c.cfg.logger.Debug("message not claimed by any subscription", "connection", c.id, "id", resp.ID)
	}
}

func (c *Connection) writePump(ctx context.Context, t Transport, wake <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
		for {
			c.mu.Lock()
			if c.transport != t {
				c.mu.Unlock()
				return
			}
			if len(c.outbox) == 0 {
				c.mu.Unlock()
				break
			}
			frame := c.outbox[0]
			c.outbox = c.outbox[1:]
			c.mu.Unlock()

			writeCtx, cancel := context.WithTimeout(ctx, c.cfg.writeTimeout)
			err := t.Write(writeCtx, frame)
			cancel()
			if err != nil {
				c.cfg.logger.Warn("write failed, closing transport", "connection", c.id, "error", err)
				// The read pump sees the close and schedules the reopen.
				t.Close()
				return
			}
			c.cfg.metrics.sent()
		}
	}
}
