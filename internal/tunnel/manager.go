// Package tunnel runs one host or join session at a time on top of a
// swarm.Swarm: hosting forwards every remote session to a LAN port, joining
// exposes a local port whose connections become remote sessions.
package tunnel

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/1ureka/mctunnel/internal/swarm"
)

// LogFunc receives one human-readable line per noteworthy event.
type LogFunc func(string)

// Mode is the manager's state.
type Mode int

const (
	Idle Mode = iota
	Hosting
	Joining
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Hosting:
		return "hosting"
	case Joining:
		return "joining"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultDialTimeout    = 5 * time.Second
	DefaultBindHost       = "127.0.0.1"
)

var (
	ErrInvalidCode = errors.New("tunnel: invalid room code")
	ErrInvalidPort = errors.New("tunnel: invalid LAN port")
	ErrPeerTimeout = errors.New("tunnel: no peer connection")
)

// Options tunes a Manager. Zero fields take the package defaults.
type Options struct {
	ConnectTimeout time.Duration // joiner: wait for a peer per local connection
	DialTimeout    time.Duration // host: dial the LAN game server
	BindHost       string        // address dialed by the host and listened on by the joiner
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.BindHost == "" {
		o.BindHost = DefaultBindHost
	}
	return o
}

// Manager owns the swarm for the lifetime of the process and at most one
// active session.
type Manager struct {
	sw   swarm.Swarm
	opts Options

	mu  sync.Mutex // serializes Host, Join and Stop
	cur *session
}

// NewManager creates an idle manager.
func NewManager(sw swarm.Swarm, opts Options) *Manager {
	return &Manager{sw: sw, opts: opts.withDefaults()}
}

// Mode reports the current state.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return Idle
	}
	return m.cur.mode
}

// Code returns the active room code, or "" when idle.
func (m *Manager) Code() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return ""
	}
	return m.cur.topic.String()
}

// Stop ends the active session, if any. Every connection the swarm holds is
// destroyed either way. It is safe to call repeatedly.
func (m *Manager) Stop(log LogFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(log)
}

func (m *Manager) stopLocked(log LogFunc) {
	s := m.cur
	m.cur = nil

	if s != nil {
		if err := m.sw.Leave(s.topic); err != nil {
			emit(log, fmt.Sprintf("leave topic: %v", err))
		}
		s.unsubscribe()
	}
	for _, c := range m.sw.Connections() {
		c.Destroy(nil)
	}
	if s != nil {
		s.close()
		emit(log, fmt.Sprintf("%s stopped", s.mode))
	}
}

// abort tears down a session that never became active.
func (m *Manager) abort(s *session) {
	m.sw.Leave(s.topic)
	s.close()
}

func (m *Manager) bindAddr(port int) string {
	return net.JoinHostPort(m.opts.BindHost, fmt.Sprint(port))
}

func emit(log LogFunc, msg string) {
	if log != nil {
		log(msg)
	}
}
