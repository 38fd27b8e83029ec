// Package event provides listener registration with explicit unsubscribe
// functions, used wherever a connection or swarm notifies subscribers.
package event

import "sync"

type listener[T any] struct {
	id   uint64
	fn   func(T)
	once bool
}

// Emitter fans a value out to its registered listeners. The zero value is
// ready to use. Listeners run on the emitting goroutine, outside the lock,
// so they may subscribe or unsubscribe freely.
type Emitter[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
}

// On registers a persistent listener and returns its unsubscribe func.
func (e *Emitter[T]) On(fn func(T)) (off func()) {
	return e.add(fn, false)
}

// Once registers a listener that is removed after its first call.
func (e *Emitter[T]) Once(fn func(T)) (off func()) {
	return e.add(fn, true)
}

func (e *Emitter[T]) add(fn func(T), once bool) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn, once: once})
	e.mu.Unlock()

	var offOnce sync.Once
	return func() {
		offOnce.Do(func() { e.remove(id) })
	}
}

func (e *Emitter[T]) remove(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Emit calls every listener registered at the time of the call, in
// registration order.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := make([]listener[T], len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.Unlock()

	for _, l := range snapshot {
		if l.once && !e.remove(l.id) {
			continue // a concurrent Emit already consumed it
		}
		l.fn(v)
	}
}

// Len reports the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Clear drops every listener.
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	e.listeners = nil
	e.mu.Unlock()
}
