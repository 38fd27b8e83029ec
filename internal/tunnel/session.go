package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/1ureka/mctunnel/internal/bridge"
	"github.com/1ureka/mctunnel/internal/mux"
	"github.com/1ureka/mctunnel/internal/swarm"
	"github.com/1ureka/mctunnel/internal/util"
)

var errSessionClosed = errors.New("tunnel: session closed")

// session is the state of one Host or Join call. Everything it starts is
// torn down by close.
type session struct {
	mode  Mode
	topic swarm.Topic
	opts  Options
	log   LogFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool // no new work accepted
	finished bool // close has run
	ln       net.Listener
	muxes    map[swarm.Conn]*mux.Mux
	offs     []func()
}

func newSession(mode Mode, topic swarm.Topic, opts Options, log LogFunc) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		mode:   mode,
		topic:  topic,
		opts:   opts,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		muxes:  make(map[swarm.Conn]*mux.Mux),
	}
}

func (s *session) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	util.Logf("[%s] %s", s.mode, msg)
	emit(s.log, msg)
}

// goFn runs fn on a tracked goroutine. It refuses once the session is
// closed.
func (s *session) goFn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// track keeps an unsubscribe func for close.
func (s *session) track(off func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		off()
		return
	}
	s.offs = append(s.offs, off)
	s.mu.Unlock()
}

func (s *session) setListener(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ln.Close()
		return errSessionClosed
	}
	s.ln = ln
	return nil
}

// attach returns the multiplexer for conn, creating it on first use. All
// local connections over the same peer connection share it.
func (s *session) attach(conn swarm.Conn, onStream func(*mux.Stream)) (*mux.Mux, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errSessionClosed
	}
	if mx := s.muxes[conn]; mx != nil {
		s.mu.Unlock()
		return mx, nil
	}
	mx := mux.New(conn)
	mx.OnStream(onStream)
	s.muxes[conn] = mx
	s.mu.Unlock()

	mx.Start()
	s.goFn(func() {
		select {
		case <-mx.Done():
			s.evict(conn, mx)
		case <-s.ctx.Done():
		}
	})
	return mx, nil
}

func (s *session) evict(conn swarm.Conn, mx *mux.Mux) {
	s.mu.Lock()
	if s.muxes[conn] == mx {
		delete(s.muxes, conn)
	}
	s.mu.Unlock()
	s.logf("peer connection closed: %v", mx.Err())
}

// bridge pumps local ↔ st until either side ends.
func (s *session) bridge(local net.Conn, st *mux.Stream) {
	util.Logf("[%05d] bridging %s", st.ID(), local.RemoteAddr())
	if err := bridge.Bridge(s.ctx, local, st); err != nil {
		s.logf("session %d ended: %v", st.ID(), err)
		return
	}
	util.Logf("[%05d] session finished", st.ID())
}

// unsubscribe removes every swarm listener the session registered and
// refuses new work. The listener and multiplexers stay up until close.
func (s *session) unsubscribe() {
	s.mu.Lock()
	s.closed = true
	offs := s.offs
	s.offs = nil
	s.mu.Unlock()

	for _, off := range offs {
		off()
	}
}

// close stops everything the session started and waits for its goroutines.
func (s *session) close() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.closed, s.finished = true, true
	ln := s.ln
	offs := s.offs
	muxes := s.muxes
	s.ln, s.offs, s.muxes = nil, nil, nil
	s.mu.Unlock()

	s.cancel()
	for _, off := range offs {
		off()
	}
	if ln != nil {
		ln.Close()
	}
	for _, mx := range muxes {
		mx.Close()
	}
	s.wg.Wait()
}
