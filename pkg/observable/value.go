// Package observable provides values that notify subscribers on every change.
//
// A subscriber is called once with the current value when it subscribes and
// again after every Set or Update. Notifications are delivered one at a time
// in the order the changes were made, outside any internal lock, so a listener
// may read or change the value it observes. A change made while another
// goroutine (or an enclosing listener) is delivering is queued and delivered
// by that goroutine; Set can therefore return before its listeners ran.
package observable

import "sync"

type listener[T any] struct {
	id int
	fn func(T)
}

type notification[T any] struct {
	v   T
	fns []func(T)
}

// Value holds a T and a list of subscribers.
type Value[T any] struct {
	mu         sync.Mutex
	v          T
	nextID     int
	listeners  []listener[T]
	queue      []notification[T]
	delivering bool
}

// NewValue returns a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial}
}

// Get returns the current value.
func (o *Value[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.v
}

// Set replaces the value and notifies subscribers.
func (o *Value[T]) Set(v T) {
	o.Update(func(T) T { return v })
}

// Update replaces the value with fn(current) and notifies subscribers.
func (o *Value[T]) Update(fn func(T) T) {
	o.update(func(cur T) (T, bool) { return fn(cur), true })
}

// update applies fn and notifies only when fn reports a change.
func (o *Value[T]) update(fn func(T) (T, bool)) {
	o.mu.Lock()
	next, changed := fn(o.v)
	if !changed {
		o.mu.Unlock()
		return
	}
	o.v = next
	o.queue = append(o.queue, notification[T]{v: next, fns: o.snapshot()})
	o.deliverLocked()
}

// deliverLocked drains the queue unless another call is already draining it.
// It is entered with o.mu held and returns with it released.
func (o *Value[T]) deliverLocked() {
	if o.delivering {
		o.mu.Unlock()
		return
	}
	o.delivering = true
	held := true
	defer func() {
		// a panicking listener leaves the lock released
		if !held {
			o.mu.Lock()
		}
		o.delivering = false
		o.mu.Unlock()
	}()
	for len(o.queue) > 0 {
		n := o.queue[0]
		o.queue[0] = notification[T]{}
		o.queue = o.queue[1:]
		held = false
		o.mu.Unlock()
		for _, f := range n.fns {
			f(n.v)
		}
		o.mu.Lock()
		held = true
	}
	o.queue = nil
}

// Subscribe registers fn and calls it with the current value, ahead of any
// later change. The returned function removes the subscription; calling it
// more than once is harmless. Notifications already queued still reach fn.
func (o *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners = append(o.listeners, listener[T]{id: id, fn: fn})
	o.queue = append(o.queue, notification[T]{v: o.v, fns: []func(T){fn}})
	o.deliverLocked()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			for i, l := range o.listeners {
				if l.id == id {
					o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribers returns the number of registered listeners.
func (o *Value[T]) Subscribers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.listeners)
}

func (o *Value[T]) snapshot() []func(T) {
	fns := make([]func(T), len(o.listeners))
	for i, l := range o.listeners {
		fns[i] = l.fn
	}
	return fns
}
