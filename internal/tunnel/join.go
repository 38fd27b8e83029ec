package tunnel

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/mctunnel/internal/mux"
	"github.com/1ureka/mctunnel/internal/swarm"
)

// Join stops any prior session, joins the topic behind code as a client and
// listens on an ephemeral BindHost port. Each accepted connection waits for
// a peer, opens a session on it and is bridged. Join returns the port as
// soon as the listener is ready.
func (m *Manager) Join(ctx context.Context, code string, log LogFunc) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(log)

	topic, err := swarm.ParseTopic(code)
	if err != nil {
		emit(log, "join failed: invalid room code")
		return 0, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	s := newSession(Joining, topic, m.opts, log)

	d, err := m.sw.Join(topic, swarm.JoinOptions{Client: true})
	if err != nil {
		m.abort(s)
		emit(log, fmt.Sprintf("join failed: %v", err))
		return 0, fmt.Errorf("join topic: %w", err)
	}
	if err := d.Flushed(ctx); err != nil {
		m.abort(s)
		emit(log, fmt.Sprintf("join failed: %v", err))
		return 0, fmt.Errorf("join topic: %w", err)
	}

	ln, err := net.Listen("tcp", m.bindAddr(0))
	if err != nil {
		m.abort(s)
		emit(log, fmt.Sprintf("join failed: %v", err))
		return 0, fmt.Errorf("bind local listener: %w", err)
	}
	if err := s.setListener(ln); err != nil {
		m.abort(s)
		return 0, err
	}
	s.goFn(func() { s.accept(ln, m.sw) })

	m.cur = s
	port := ln.Addr().(*net.TCPAddr).Port
	s.logf("joined, listening on %s", ln.Addr())
	return port, nil
}

// accept serves the local listener until it is closed.
func (s *session) accept(ln net.Listener, sw swarm.Swarm) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.logf("accept failed: %v", err)
			}
			return
		}
		if !s.goFn(func() { s.forward(conn, sw) }) {
			conn.Close()
			return
		}
	}
}

// forward carries one local connection to the peer. Failures only affect
// this connection.
func (s *session) forward(local net.Conn, sw swarm.Swarm) {
	peer, err := s.peer(sw)
	if err != nil {
		s.logf("connection from %s dropped: %v", local.RemoteAddr(), err)
		local.Close()
		return
	}
	mx, err := s.attach(peer, s.reject)
	if err != nil {
		local.Close()
		return
	}
	st, err := mx.Open()
	if err != nil {
		s.logf("connection from %s dropped: open session: %v", local.RemoteAddr(), err)
		local.Close()
		return
	}
	s.bridge(local, st)
}

// reject closes sessions opened by the host side; only the joiner opens
// sessions.
func (s *session) reject(st *mux.Stream) {
	s.logf("unexpected session %d from peer, closing", st.ID())
	st.Close()
}

// peer returns the newest live peer connection, or waits up to
// ConnectTimeout for one. The subscription is removed on every path.
func (s *session) peer(sw swarm.Swarm) (swarm.Conn, error) {
	found := make(chan swarm.Conn, 1)
	off := sw.OnConnection(func(c swarm.Conn) {
		select {
		case found <- c:
		default:
		}
	})
	defer off()

	if conns := sw.Connections(); len(conns) > 0 {
		return conns[len(conns)-1], nil
	}

	timer := time.NewTimer(s.opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case c := <-found:
		return c, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w within %s", ErrPeerTimeout, s.opts.ConnectTimeout)
	case <-s.ctx.Done():
		return nil, errSessionClosed
	}
}
