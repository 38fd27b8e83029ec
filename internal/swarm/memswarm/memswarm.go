// Package memswarm is an in-process swarm provider. Swarms created from the
// same Network find each other by topic and are connected with in-memory
// pipes. It backs the tests and single-process setups.
package memswarm

import (
	"context"
	"slices"
	"sync"

	"github.com/1ureka/mctunnel/internal/event"
	"github.com/1ureka/mctunnel/internal/swarm"
)

// Network is the shared rendezvous space.
type Network struct {
	mu      sync.Mutex
	members map[swarm.Topic]map[*Swarm]swarm.JoinOptions
	links   map[*Swarm]map[*Swarm]bool
}

func NewNetwork() *Network {
	return &Network{
		members: make(map[swarm.Topic]map[*Swarm]swarm.JoinOptions),
		links:   make(map[*Swarm]map[*Swarm]bool),
	}
}

// NewSwarm creates a swarm attached to the network.
func (n *Network) NewSwarm() *Swarm {
	return &Swarm{net: n}
}

// join registers s on topic and returns the members it should connect to.
func (n *Network) join(s *Swarm, topic swarm.Topic, opts swarm.JoinOptions) []*Swarm {
	n.mu.Lock()
	defer n.mu.Unlock()

	room, ok := n.members[topic]
	if !ok {
		room = make(map[*Swarm]swarm.JoinOptions)
		n.members[topic] = room
	}
	room[s] = opts

	var peers []*Swarm
	for other, o := range room {
		if other == s || n.links[s][other] {
			continue
		}
		if (opts.Client && o.Server) || (opts.Server && o.Client) {
			n.link(s, other)
			peers = append(peers, other)
		}
	}
	return peers
}

func (n *Network) link(a, b *Swarm) {
	for _, pair := range [][2]*Swarm{{a, b}, {b, a}} {
		if n.links[pair[0]] == nil {
			n.links[pair[0]] = make(map[*Swarm]bool)
		}
		n.links[pair[0]][pair[1]] = true
	}
}

func (n *Network) unlink(a, b *Swarm) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.links[a], b)
	delete(n.links[b], a)
}

func (n *Network) leave(s *Swarm, topic swarm.Topic) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if room, ok := n.members[topic]; ok {
		delete(room, s)
		if len(room) == 0 {
			delete(n.members, topic)
		}
	}
}

func (n *Network) remove(s *Swarm) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for topic, room := range n.members {
		delete(room, s)
		if len(room) == 0 {
			delete(n.members, topic)
		}
	}
}

// Swarm implements swarm.Swarm on top of a Network.
type Swarm struct {
	net *Network

	mu          sync.Mutex
	conns       []*Conn
	destroyed   bool
	connections event.Emitter[swarm.Conn]
}

var _ swarm.Swarm = (*Swarm)(nil)

type flushed struct{}

func (flushed) Flushed(ctx context.Context) error { return ctx.Err() }

func (s *Swarm) Join(topic swarm.Topic, opts swarm.JoinOptions) (swarm.Discovery, error) {
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed {
		return nil, swarm.ErrDestroyed
	}

	for _, peer := range s.net.join(s, topic, opts) {
		s.connect(peer)
	}
	return flushed{}, nil
}

// connect pairs s with peer and notifies both sides.
func (s *Swarm) connect(peer *Swarm) {
	local, remote := Pipe()
	local.OnClose(func() { s.net.unlink(s, peer) })

	if !s.add(local) || !peer.add(remote) {
		local.Destroy(nil)
		return
	}
	s.connections.Emit(local)
	peer.connections.Emit(remote)
}

func (s *Swarm) add(c *Conn) bool {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return false
	}
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	c.OnClose(func() {
		s.mu.Lock()
		s.conns = slices.DeleteFunc(s.conns, func(x *Conn) bool { return x == c })
		s.mu.Unlock()
	})
	return true
}

func (s *Swarm) Leave(topic swarm.Topic) error {
	s.net.leave(s, topic)
	return nil
}

func (s *Swarm) Connections() []swarm.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]swarm.Conn, len(s.conns))
	for i, c := range s.conns {
		out[i] = c
	}
	return out
}

func (s *Swarm) OnConnection(fn func(swarm.Conn)) func() {
	return s.connections.On(fn)
}

// Listeners reports how many connection listeners are registered.
func (s *Swarm) Listeners() int {
	return s.connections.Len()
}

func (s *Swarm) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	s.net.remove(s)
	for _, c := range conns {
		c.Destroy(nil)
	}
	s.connections.Clear()
	return nil
}
