package tunnel

import (
	"context"
	"fmt"
	"net"

	"github.com/1ureka/mctunnel/internal/mux"
	"github.com/1ureka/mctunnel/internal/swarm"
)

// Host stops any prior session, announces a fresh topic as a server and
// forwards every session a peer opens to BindHost:lanPort. It returns the
// room code once the announcement is acknowledged.
func (m *Manager) Host(ctx context.Context, lanPort int, log LogFunc) (string, error) {
	if lanPort < 1 || lanPort > 65535 {
		return "", fmt.Errorf("%w: %d", ErrInvalidPort, lanPort)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(log)

	topic, err := swarm.NewTopic()
	if err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	s := newSession(Hosting, topic, m.opts, log)
	target := m.bindAddr(lanPort)

	s.track(m.sw.OnConnection(func(conn swarm.Conn) {
		if _, err := s.attach(conn, func(st *mux.Stream) { s.serve(st, target) }); err == nil {
			s.logf("peer connected")
		}
	}))

	d, err := m.sw.Join(topic, swarm.JoinOptions{Server: true})
	if err != nil {
		m.abort(s)
		emit(log, fmt.Sprintf("host failed: %v", err))
		return "", fmt.Errorf("announce topic: %w", err)
	}
	if err := d.Flushed(ctx); err != nil {
		m.abort(s)
		emit(log, fmt.Sprintf("host failed: %v", err))
		return "", fmt.Errorf("announce topic: %w", err)
	}

	m.cur = s
	s.logf("hosting, forwarding sessions to %s", target)
	return topic.String(), nil
}

// serve handles one remote session: dial the game server and bridge. It runs
// on the multiplexer's goroutine and must not block.
func (s *session) serve(st *mux.Stream, target string) {
	ok := s.goFn(func() {
		d := net.Dialer{Timeout: s.opts.DialTimeout}
		local, err := d.DialContext(s.ctx, "tcp", target)
		if err != nil {
			s.logf("session %d: dial %s failed: %v", st.ID(), target, err)
			st.Close()
			return
		}
		s.bridge(local, st)
	})
	if !ok {
		st.Close()
	}
}
