package client

import (
	"context"
	"sync"
	"time"

	"github.com/cskr/pubsub"
)

const eventTopic = "lifecycle"

// eventHub guards a pubsub hub so that nothing is sent to it after shutdown;
// the hub stops reading its command channel once shut down.
type eventHub struct {
	mu     sync.RWMutex
	closed bool
	bus    *pubsub.PubSub
}

func newEventHub(capacity int) *eventHub {
	return &eventHub{bus: pubsub.New(capacity)}
}

// sub returns nil after shutdown.
func (h *eventHub) sub() chan interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	return h.bus.Sub(eventTopic)
}

func (h *eventHub) unsub(ch chan interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.closed {
		h.bus.Unsub(ch, eventTopic)
	}
}

func (h *eventHub) pub(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.closed {
		h.bus.Pub(ev, eventTopic)
	}
}

// shutdown stops the hub goroutine and closes every subscriber channel.
func (h *eventHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.bus.Shutdown()
}

// State is the connection's position in its lifecycle.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventConnecting      EventKind = "connecting"
	EventOpen            EventKind = "open"
	EventOpenFailed      EventKind = "open_failed"
	EventClosed          EventKind = "closed"
	EventReopenScheduled EventKind = "reopen_scheduled"
)

// Event describes one lifecycle transition of a Connection.
type Event struct {
	ConnectionID string
	Kind         EventKind
	State        State
	// Attempt is the reopen attempt a scheduled delay was computed for.
	Attempt uint
	Delay   time.Duration
	Err     error
}

// Watch streams lifecycle events until ctx is done or the connection is shut
// down. Events are dropped for a watcher whose buffer is full.
func (c *Connection) Watch(ctx context.Context) <-chan Event {
	out := make(chan Event, c.cfg.eventBuffer)
	raw := c.events.sub()
	if raw == nil {
		close(out)
		return out
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				// Unsub closes raw once the hub processes it; keep draining so
				// the hub never blocks on this channel meanwhile.
				go c.events.unsub(raw)
				for range raw {
				}
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				ev, isEvent := msg.(Event)
				if !isEvent {
					continue
				}
				select {
				case out <- ev:
				default:
					c.cfg.logger.Debug("lifecycle event dropped for slow watcher", "connection", c.id, "kind", ev.Kind)
				}
			}
		}
	}()
	return out
}

func (c *Connection) emit(ev Event) {
	ev.ConnectionID = c.id
	c.cfg.metrics.state(c.id, ev.State)
	c.events.pub(ev)
}
