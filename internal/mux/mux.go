// Package mux turns one raw peer connection into any number of independent
// sessions. Frames are parsed by a single goroutine per Mux and routed to
// sessions by id; writes from all sessions are serialized onto the
// connection one frame at a time.
package mux

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/1ureka/mctunnel/internal/event"
	"github.com/1ureka/mctunnel/internal/protocol"
	"github.com/1ureka/mctunnel/internal/swarm"
	"github.com/1ureka/mctunnel/internal/util"
)

// Tuning constants.
const (
	chunkQueueSize = 64    // inbound raw chunks waiting for the processing loop
	maxSessionID   = 60000 // locally opened ids are drawn from [0, maxSessionID]
	idAttempts     = 64
)

var (
	ErrClosed        = errors.New("mux: closed")
	ErrStreamClosed  = errors.New("mux: stream closed")
	ErrReplaced      = errors.New("mux: stream replaced by a new OPEN for the same id")
	ErrNoFreeSession = errors.New("mux: no free session id")
)

// Mux multiplexes sessions over exactly one swarm.Conn. Its lifetime is the
// lifetime of that connection.
type Mux struct {
	conn swarm.Conn

	chunks   chan []byte
	done     chan struct{}
	loopDone chan struct{}
	started  bool

	mu      sync.Mutex // guards streams, closed, err, offs
	streams map[uint16]*Stream
	closed  bool
	err     error
	offs    []func()

	wmu sync.Mutex // one Send at a time on the connection

	sessions  event.Emitter[*Stream]
	closeOnce sync.Once
}

// New wraps conn. Register OnStream listeners, then call Start.
func New(conn swarm.Conn) *Mux {
	return &Mux{
		conn:     conn,
		chunks:   make(chan []byte, chunkQueueSize),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		streams:  make(map[uint16]*Stream),
	}
}

// Start launches the processing loop and subscribes to the connection.
// Calling it more than once has no effect.
func (m *Mux) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.loop()

	m.track(m.conn.OnError(func(err error) { m.shutdown(err) }))
	m.track(m.conn.OnClose(func() { m.shutdown(swarm.ErrConnClosed) }))
	m.track(m.conn.OnData(m.enqueue))
}

// track keeps a connection subscription so shutdown can drop it. If the mux
// is already shut down the subscription is dropped right away.
func (m *Mux) track(off func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		off()
		return
	}
	m.offs = append(m.offs, off)
	m.mu.Unlock()
}

// OnStream registers fn for every session opened by the remote side. fn runs
// on the processing goroutine and must not block.
func (m *Mux) OnStream(fn func(*Stream)) (off func()) {
	return m.sessions.On(fn)
}

// Done is closed once the mux has shut down.
func (m *Mux) Done() <-chan struct{} { return m.done }

// Err returns the reason the mux shut down, or nil while it is running.
func (m *Mux) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Close shuts the mux down and waits for the processing loop to exit. The
// raw connection itself is left to its owner.
func (m *Mux) Close() error {
	m.shutdown(ErrClosed)
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.loopDone
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sending
// ---------------------------------------------------------------------------

// Send writes one logical message for a session. Payloads that do not fit a
// single frame are cut into SplitSize chunks, all sent under the same id and
// without any other frame in between.
func (m *Mux) Send(id uint16, typ protocol.Type, payload []byte) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()

	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	for len(payload) > protocol.MaxPayloadSize {
		if err := m.write(id, typ, payload[:protocol.SplitSize]); err != nil {
			return err
		}
		payload = payload[protocol.SplitSize:]
	}
	return m.write(id, typ, payload)
}

func (m *Mux) write(id uint16, typ protocol.Type, payload []byte) error {
	buf, err := protocol.Encode(protocol.Frame{SessionID: id, Type: typ, Payload: payload})
	if err != nil {
		return err
	}
	if err := m.conn.Write(buf); err != nil {
		return fmt.Errorf("write %s frame (session=%d): %w", typ, id, err)
	}
	util.Stats.AddSent(len(buf))
	return nil
}

// ---------------------------------------------------------------------------
// Session table
// ---------------------------------------------------------------------------

// CreateStream registers a local stream under id without sending anything.
// A stream already registered under id is destroyed first.
func (m *Mux) CreateStream(id uint16) *Stream {
	st := newStream(m, id)

	m.mu.Lock()
	if m.closed {
		err := m.err
		m.mu.Unlock()
		st.terminate(err)
		return st
	}
	old := m.streams[id]
	m.streams[id] = st
	m.mu.Unlock()

	if old != nil {
		old.terminate(ErrReplaced)
	}
	return st
}

// Open allocates a free random session id, registers a stream for it and
// announces it to the remote side with an OPEN frame.
func (m *Mux) Open() (*Stream, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	id, ok := m.freeIDLocked()
	if !ok {
		m.mu.Unlock()
		return nil, ErrNoFreeSession
	}
	st := newStream(m, id)
	m.streams[id] = st
	m.mu.Unlock()

	if err := m.Send(id, protocol.TypeOpen, nil); err != nil {
		m.detach(st)
		st.terminate(err)
		return nil, err
	}
	return st, nil
}

func (m *Mux) freeIDLocked() (uint16, bool) {
	for range idAttempts {
		id := uint16(rand.IntN(maxSessionID + 1))
		if _, taken := m.streams[id]; !taken {
			return id, true
		}
	}
	return 0, false
}

// RemoveStream deregisters the stream under id without sending a frame.
func (m *Mux) RemoveStream(id uint16) {
	m.mu.Lock()
	delete(m.streams, id)
	m.mu.Unlock()
}

// detach deregisters st only if it is still the stream registered for its
// id, so a stream replaced by a newer OPEN never evicts its successor.
func (m *Mux) detach(st *Stream) {
	m.mu.Lock()
	if m.streams[st.id] == st {
		delete(m.streams, st.id)
	}
	m.mu.Unlock()
}

// NumStreams reports the number of registered sessions.
func (m *Mux) NumStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// ---------------------------------------------------------------------------
// Receiving
// ---------------------------------------------------------------------------

// enqueue hands a raw chunk to the processing loop. It blocks while the loop
// is behind, which pushes back on the connection.
func (m *Mux) enqueue(chunk []byte) {
	select {
	case m.chunks <- chunk:
	case <-m.done:
	}
}

// loop is the single owner of the decoder. Frames are dispatched strictly in
// arrival order.
func (m *Mux) loop() {
	defer close(m.loopDone)

	var dec protocol.Decoder
	for {
		select {
		case chunk := <-m.chunks:
			util.Stats.AddRecv(len(chunk))
			dec.Write(chunk)
			for {
				f, ok, err := dec.Next()
				if err != nil {
					util.Logf("malformed frame, dropping peer connection: %v", err)
					m.shutdown(err)
					m.conn.Destroy(err)
					return
				}
				if !ok {
					break
				}
				m.dispatch(f)
			}

		case <-m.done:
			return
		}
	}
}

func (m *Mux) dispatch(f protocol.Frame) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	switch f.Type {
	case protocol.TypeData:
		st := m.streams[f.SessionID]
		m.mu.Unlock()
		if st == nil {
			util.Logf("[%05d] DATA for unknown session, dropped", f.SessionID)
			return
		}
		st.push(f.Payload)

	case protocol.TypeOpen:
		old := m.streams[f.SessionID]
		st := newStream(m, f.SessionID)
		m.streams[f.SessionID] = st
		m.mu.Unlock()

		if old != nil {
			util.Logf("[%05d] OPEN for a live session, replacing it", f.SessionID)
			old.terminate(ErrReplaced)
		}
		m.sessions.Emit(st)

	case protocol.TypeClose:
		st := m.streams[f.SessionID]
		delete(m.streams, f.SessionID)
		m.mu.Unlock()
		if st != nil {
			st.terminate(nil)
		}

	default:
		m.mu.Unlock()
		util.Logf("[%05d] unknown frame type %s, skipped", f.SessionID, f.Type)
	}
}

// shutdown destroys every session and drops the connection subscriptions.
// It is safe to call from any goroutine, including the processing loop and
// connection callbacks.
func (m *Mux) shutdown(reason error) {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.err = reason
		streams := m.streams
		m.streams = make(map[uint16]*Stream)
		offs := m.offs
		m.offs = nil
		m.mu.Unlock()

		close(m.done)
		for _, off := range offs {
			off()
		}
		for _, st := range streams {
			st.terminate(reason)
		}
		m.sessions.Clear()
		util.Logf("mux shut down (%d sessions destroyed): %v", len(streams), reason)
	})
}
