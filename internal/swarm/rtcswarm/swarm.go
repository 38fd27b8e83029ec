// Package rtcswarm provides a swarm.Swarm whose connections are WebRTC
// DataChannels, paired and negotiated through a rendezvous server.
package rtcswarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mctunnel/internal/event"
	"github.com/1ureka/mctunnel/internal/signaling"
	"github.com/1ureka/mctunnel/internal/swarm"
	"github.com/1ureka/mctunnel/internal/util"
)

var (
	ErrSignalingClosed = errors.New("rtcswarm: rendezvous connection closed")
	ErrPeerFailed      = errors.New("rtcswarm: peer connection failed")
)

// Options configures Dial.
type Options struct {
	SignalURL  string   // rendezvous WebSocket endpoint
	ICEServers []string // STUN URLs; defaults to public Google STUN
}

// Swarm is a WebRTC swarm.Swarm.
type Swarm struct {
	opts   Options
	client *signaling.Client

	signaled chan struct{} // closed when the read loop exits

	mu        sync.Mutex
	destroyed bool
	joins     map[string]*discovery   // discovery key → pending/acked join
	pending   map[string]*negotiation // pair id → negotiation in progress
	conns     []*Conn

	connections event.Emitter[swarm.Conn]
}

var _ swarm.Swarm = (*Swarm)(nil)

// negotiation is the SDP/ICE state of one pair until its DataChannel opens.
type negotiation struct {
	id        string
	initiator bool
	pc        *webrtc.PeerConnection
	conn      *Conn

	// candidates that arrived before the remote description
	early []webrtc.ICECandidateInit
}

// Dial connects to the rendezvous server.
func Dial(ctx context.Context, opts Options) (*Swarm, error) {
	client, err := signaling.Dial(ctx, opts.SignalURL)
	if err != nil {
		return nil, err
	}
	s := &Swarm{
		opts:     opts,
		client:   client,
		signaled: make(chan struct{}),
		joins:    make(map[string]*discovery),
		pending:  make(map[string]*negotiation),
	}
	go s.readLoop()
	util.Logf("connected to rendezvous server %s", opts.SignalURL)
	return s, nil
}

// ---------------------------------------------------------------------------
// swarm.Swarm
// ---------------------------------------------------------------------------

func (s *Swarm) Join(topic swarm.Topic, opts swarm.JoinOptions) (swarm.Discovery, error) {
	key := DiscoveryKey(topic)
	d := newDiscovery(s.signaled)

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, swarm.ErrDestroyed
	}
	s.joins[key] = d
	s.mu.Unlock()

	msg := signaling.Message{Type: signaling.MsgTypeJoin, Topic: key, Server: opts.Server, Client: opts.Client}
	if err := s.client.Send(msg); err != nil {
		s.mu.Lock()
		if s.joins[key] == d {
			delete(s.joins, key)
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("announce topic: %w", err)
	}
	return d, nil
}

func (s *Swarm) Leave(topic swarm.Topic) error {
	key := DiscoveryKey(topic)

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	delete(s.joins, key)
	s.mu.Unlock()

	if err := s.client.Send(signaling.Message{Type: signaling.MsgTypeLeave, Topic: key}); err != nil {
		return fmt.Errorf("leave topic: %w", err)
	}
	return nil
}

func (s *Swarm) Connections() []swarm.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]swarm.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Swarm) OnConnection(fn func(swarm.Conn)) func() {
	return s.connections.On(fn)
}

// Destroy closes the rendezvous connection and every peer connection.
func (s *Swarm) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	conns := s.conns
	s.conns = nil
	pending := s.pending
	s.pending = make(map[string]*negotiation)
	s.mu.Unlock()

	err := s.client.Close()
	for _, c := range conns {
		c.Destroy(nil)
	}
	for _, n := range pending {
		n.conn.Destroy(nil)
	}
	s.connections.Clear()
	return err
}

// ---------------------------------------------------------------------------
// Rendezvous messages
// ---------------------------------------------------------------------------

func (s *Swarm) readLoop() {
	defer close(s.signaled)

	for {
		msg, err := s.client.Read()
		if err != nil {
			s.mu.Lock()
			destroyed := s.destroyed
			s.mu.Unlock()
			if !destroyed {
				util.LogWarning("rendezvous connection lost: %v", err)
			}
			return
		}

		switch msg.Type {
		case signaling.MsgTypeJoined:
			s.mu.Lock()
			d := s.joins[msg.Topic]
			s.mu.Unlock()
			if d != nil {
				d.ack()
			}

		case signaling.MsgTypePair:
			if err := s.startPair(msg.Pair, msg.Initiator); err != nil {
				util.LogWarning("pair %s: %v", msg.Pair, err)
			}

		case signaling.MsgTypeOffer, signaling.MsgTypeAnswer, signaling.MsgTypeCandidate:
			s.mu.Lock()
			n := s.pending[msg.Pair]
			s.mu.Unlock()
			if n == nil {
				util.Logf("%s for unknown pair %s ignored", msg.Type, msg.Pair)
				continue
			}
			if err := s.negotiate(n, msg); err != nil {
				util.LogWarning("pair %s: %s failed: %v", msg.Pair, msg.Type, err)
				n.conn.Destroy(err)
			}

		case signaling.MsgTypeUnpair:
			if c := s.lookup(msg.Pair); c != nil {
				util.Logf("[%s] pair released by peer", msg.Pair)
				c.Destroy(nil)
			}

		case signaling.MsgTypeError:
			util.Logf("rendezvous error: %s", msg.Error)
		}
	}
}

// startPair creates the PeerConnection for a pair announced by the server.
// The initiator sends the offer right away.
func (s *Swarm) startPair(id string, initiator bool) error {
	pc, err := newPeerConnection(s.opts.ICEServers)
	if err != nil {
		return fmt.Errorf("create PeerConnection: %w", err)
	}
	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create DataChannel: %w", err)
	}

	n := &negotiation{id: id, initiator: initiator, pc: pc, conn: newConn(id, pc, dc)}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		n.conn.Destroy(nil)
		return swarm.ErrDestroyed
	}
	s.pending[id] = n
	s.mu.Unlock()

	n.conn.OnClose(func() { s.forget(n) })

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		// best effort; a lost candidate only narrows the choice of routes
		s.client.Send(signaling.Message{Type: signaling.MsgTypeCandidate, Pair: id, Candidate: string(data)})
	})
	dc.OnOpen(func() { s.promote(n) })

	if !initiator {
		return nil
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		n.conn.Destroy(err)
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		n.conn.Destroy(err)
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return s.client.Send(signaling.Message{Type: signaling.MsgTypeOffer, Pair: id, SDP: offer.SDP})
}

func (s *Swarm) negotiate(n *negotiation, msg signaling.Message) error {
	switch msg.Type {
	case signaling.MsgTypeOffer:
		if err := n.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
			return fmt.Errorf("SetRemoteDescription: %w", err)
		}
		answer, err := n.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("CreateAnswer: %w", err)
		}
		if err := n.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("SetLocalDescription: %w", err)
		}
		if err := s.client.Send(signaling.Message{Type: signaling.MsgTypeAnswer, Pair: n.id, SDP: answer.SDP}); err != nil {
			return err
		}
		return n.flushCandidates()

	case signaling.MsgTypeAnswer:
		if err := n.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
			return fmt.Errorf("SetRemoteDescription: %w", err)
		}
		return n.flushCandidates()

	case signaling.MsgTypeCandidate:
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
			return fmt.Errorf("parse ICE candidate: %w", err)
		}
		if n.pc.RemoteDescription() == nil {
			n.early = append(n.early, init)
			return nil
		}
		return n.pc.AddICECandidate(init)
	}
	return nil
}

func (n *negotiation) flushCandidates() error {
	early := n.early
	n.early = nil
	for _, c := range early {
		if err := n.pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

// promote moves a pair whose DataChannel just opened into the connection
// list and announces it.
func (s *Swarm) promote(n *negotiation) {
	s.mu.Lock()
	if s.destroyed || s.pending[n.id] != n || n.conn.Closed() {
		s.mu.Unlock()
		return
	}
	delete(s.pending, n.id)
	s.conns = append(s.conns, n.conn)
	s.mu.Unlock()

	util.Logf("[%s] DataChannel open", n.id)
	s.connections.Emit(n.conn)
}

// forget drops a closed pair and releases it on the rendezvous server so the
// same peers can be paired again.
func (s *Swarm) forget(n *negotiation) {
	s.mu.Lock()
	if s.pending[n.id] == n {
		delete(s.pending, n.id)
	}
	for i, c := range s.conns {
		if c == n.conn {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
	destroyed := s.destroyed
	s.mu.Unlock()

	if !destroyed {
		s.client.Send(signaling.Message{Type: signaling.MsgTypeUnpair, Pair: n.id})
	}
}

// lookup returns the pending or established connection of a pair.
func (s *Swarm) lookup(id string) *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.pending[id]; n != nil {
		return n.conn
	}
	for _, c := range s.conns {
		if c.pair == id {
			return c
		}
	}
	return nil
}
