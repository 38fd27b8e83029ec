package mux

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/1ureka/mctunnel/internal/protocol"
	"github.com/1ureka/mctunnel/internal/util"
)

// Stream is one logical session inside a Mux. It implements
// io.ReadWriteCloser.
type Stream struct {
	id  uint16
	mux *Mux // not owned

	mu     sync.Mutex
	buf    bytes.Buffer // inbound bytes not yet read
	closed bool
	err    error

	notify chan struct{}
	done   chan struct{}
}

var _ io.ReadWriteCloser = (*Stream)(nil)

func newStream(m *Mux, id uint16) *Stream {
	util.Stats.AddSession()
	return &Stream{
		id:     id,
		mux:    m,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Stream) ID() uint16 { return s.id }

// Done is closed when the stream terminates for any reason.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns the termination error. It is nil while the stream is open and
// after a clean close from either side.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Read returns buffered inbound bytes. After termination the remaining
// bytes are still delivered, then io.EOF for a clean close or the
// termination error otherwise.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		s.mu.Lock()
		if s.buf.Len() > 0 {
			n, _ := s.buf.Read(p)
			s.mu.Unlock()
			return n, nil
		}
		if s.closed {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		}
	}
}

// Write sends p as DATA frames for this session.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrStreamClosed
	}
	if err := s.mux.Send(s.id, protocol.TypeData, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close ends the session locally: exactly one CLOSE frame is sent and the
// stream is deregistered. Later calls do nothing.
func (s *Stream) Close() error {
	if !s.terminate(nil) {
		return nil
	}
	err := s.mux.Send(s.id, protocol.TypeClose, nil)
	s.mux.detach(s)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// push appends inbound payload bytes.
func (s *Stream) push(p []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buf.Write(p)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// terminate marks the stream finished without touching the wire. It reports
// whether this call did the termination.
func (s *Stream) terminate(err error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.err = err
	close(s.done)
	s.mu.Unlock()

	util.Stats.RemoveSession()
	if err != nil {
		util.Logf("[%05d] session destroyed: %v", s.id, err)
	}
	return true
}
