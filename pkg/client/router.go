package client

import (
	"strings"
	"sync"

	"github.com/lightforgemedia/go-swell/pkg/jsonrpc"
)

// Handler receives routed inbound messages.
type Handler func(resp *jsonrpc.Response)

type route struct {
	prefix  string
	handler Handler
}

// Delivery reports how many handlers received a routed message.
type Delivery struct {
	Prefixed int
	Global   int
}

// Router demultiplexes inbound messages to the handlers sharing one
// connection. Prefixed handlers claim ids that start with their prefix; global
// handlers get everything nobody claimed and every message without an id.
type Router struct {
	mu       sync.RWMutex
	prefixed []*route // registration order
	globals  []*route
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers h under prefix; an empty prefix registers a global
// handler. Registering a prefix that is already taken replaces its handler.
// The returned function removes this registration only.
func (r *Router) Handle(prefix string, h Handler) (remove func()) {
	rt := &route{prefix: prefix, handler: h}

	r.mu.Lock()
	if prefix == "" {
		r.globals = append(r.globals, rt)
	} else {
		replaced := false
		for i, existing := range r.prefixed {
			if existing.prefix == prefix {
				r.prefixed[i] = rt
				replaced = true
				break
			}
		}
		if !replaced {
			r.prefixed = append(r.prefixed, rt)
		}
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(rt) })
	}
}

func (r *Router) remove(rt *route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := &r.prefixed
	if rt.prefix == "" {
		list = &r.globals
	}
	for i, existing := range *list {
		if existing == rt {
			*list = append((*list)[:i:i], (*list)[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered handlers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.prefixed) + len(r.globals)
}

// Route delivers resp. Handlers are called on the caller's goroutine, in
// registration order, outside the router lock.
func (r *Router) Route(resp *jsonrpc.Response) Delivery {
	var matched, globals []Handler

	r.mu.RLock()
	if id := string(resp.ID); id != "" {
		for _, rt := range r.prefixed {
			if strings.HasPrefix(id, rt.prefix) {
				matched = append(matched, rt.handler)
			}
		}
	}
	if len(matched) == 0 {
		globals = make([]Handler, len(r.globals))
		for i, rt := range r.globals {
			globals[i] = rt.handler
		}
	}
	r.mu.RUnlock()

	for _, h := range matched {
		h(resp)
	}
	for _, h := range globals {
		h(resp)
	}
	return Delivery{Prefixed: len(matched), Global: len(globals)}
}
