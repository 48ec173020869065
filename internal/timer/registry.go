// Package timer provides named, cancelable delayed and periodic callbacks.
package timer

import (
	"sync"
	"time"
)

// Dispatcher runs fn on the owner's execution context.
type Dispatcher func(fn func())

// Handle identifies one scheduled instance of a keyed timer.
type Handle struct {
	key string
	id  uint64
}

type entry struct {
	id       uint64
	timer    *time.Timer
	interval time.Duration
	fn       func()
}

// Registry holds at most one live timer per key. Scheduling a key that is
// already live replaces the previous instance.
type Registry struct {
	mu       sync.Mutex
	dispatch Dispatcher
	entries  map[string]*entry
	seq      uint64
}

// NewRegistry creates a registry. When dispatch is nil, callbacks run on the
// timer goroutine.
func NewRegistry(dispatch Dispatcher) *Registry {
	return &Registry{
		dispatch: dispatch,
		entries:  make(map[string]*entry),
	}
}

// Schedule runs fn once after delay.
func (r *Registry) Schedule(key string, delay time.Duration, fn func()) Handle {
	return r.schedule(key, delay, 0, fn)
}

// ScheduleRepeating runs fn every interval until cancelled.
func (r *Registry) ScheduleRepeating(key string, interval time.Duration, fn func()) Handle {
	return r.schedule(key, interval, interval, fn)
}

func (r *Registry) schedule(key string, delay, interval time.Duration, fn func()) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[key]; ok {
		prev.timer.Stop()
	}

	r.seq++
	e := &entry{id: r.seq, interval: interval, fn: fn}
	h := Handle{key: key, id: e.id}
	e.timer = time.AfterFunc(delay, func() { r.fire(h) })
	r.entries[key] = e
	return h
}

func (r *Registry) fire(h Handle) {
	r.mu.Lock()
	e, ok := r.entries[h.key]
	if !ok || e.id != h.id {
		r.mu.Unlock()
		return
	}
	if e.interval > 0 {
		e.timer.Reset(e.interval)
	}
	dispatch := r.dispatch
	r.mu.Unlock()

	if dispatch == nil {
		r.run(h)
		return
	}
	dispatch(func() { r.run(h) })
}

// run re-validates the handle on the execution context so a timer cancelled
// between firing and dispatch never runs its callback.
func (r *Registry) run(h Handle) {
	r.mu.Lock()
	e, ok := r.entries[h.key]
	if !ok || e.id != h.id {
		r.mu.Unlock()
		return
	}
	if e.interval == 0 {
		delete(r.entries, h.key)
	}
	fn := e.fn
	r.mu.Unlock()

	fn()
}

// Cancel stops the instance identified by h. It is a no-op when h already
// fired, was cancelled, or was replaced by a newer schedule of the same key.
func (r *Registry) Cancel(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[h.key]; ok && e.id == h.id {
		e.timer.Stop()
		delete(r.entries, h.key)
	}
}

// CancelKey stops whatever instance is live under key.
func (r *Registry) CancelKey(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.timer.Stop()
		delete(r.entries, key)
	}
}

// Active reports whether a timer is live under key.
func (r *Registry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Len returns the number of live timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop cancels every live timer.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, key)
	}
}
