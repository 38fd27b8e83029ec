package swarm

import (
	"sync"

	"github.com/1ureka/mctunnel/internal/event"
)

// Events implements the subscription half of Conn for providers. Data
// emitted before anyone subscribes is held back and replayed, in order, to
// the first data listener. Close is delivered at most once, and a close
// listener registered after the fact is called immediately.
type Events struct {
	dmu     sync.Mutex // serializes data delivery
	backlog [][]byte
	data    event.Emitter[[]byte]

	mu     sync.Mutex
	closed bool
	close  event.Emitter[struct{}]
	errs   event.Emitter[error]
}

func (e *Events) OnData(fn func([]byte)) func() {
	e.dmu.Lock()
	defer e.dmu.Unlock()

	off := e.data.On(fn)
	backlog := e.backlog
	e.backlog = nil
	for _, b := range backlog {
		fn(b)
	}
	return off
}

func (e *Events) OnClose(fn func()) func() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		fn()
		return func() {}
	}
	off := e.close.On(func(struct{}) { fn() })
	e.mu.Unlock()
	return off
}

func (e *Events) OnError(fn func(error)) func() {
	return e.errs.On(fn)
}

// EmitData delivers one chunk. The caller hands over ownership of b.
func (e *Events) EmitData(b []byte) {
	e.dmu.Lock()
	defer e.dmu.Unlock()

	if e.data.Len() == 0 {
		e.backlog = append(e.backlog, b)
		return
	}
	e.data.Emit(b)
}

// EmitError reports err to error listeners.
func (e *Events) EmitError(err error) {
	e.errs.Emit(err)
}

// EmitClose notifies close listeners once and drops every subscription.
func (e *Events) EmitClose() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.close.Emit(struct{}{})
	e.close.Clear()
	e.errs.Clear()

	e.dmu.Lock()
	e.data.Clear()
	e.backlog = nil
	e.dmu.Unlock()
}

// Closed reports whether EmitClose has run.
func (e *Events) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
