package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/mctunnel/internal/util"
)

const (
	maxMessageSize  = 64 * 1024
	writeWait       = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the rendezvous server. Rooms are keyed by discovery key; every
// client-mode member of a room is paired once with every server-mode member.
type Server struct {
	mu    sync.Mutex
	peers map[*peer]struct{}
	rooms map[string]*room
	pairs map[string]*pair
	index map[pairKey]string // (topic, client, server) → pair id
}

type room struct {
	servers map[*peer]struct{}
	clients map[*peer]struct{}
}

type pair struct {
	id        string
	topic     string
	initiator *peer // the client-mode side
	responder *peer
}

type pairKey struct {
	topic          string
	client, server *peer
}

type peer struct {
	conn *websocket.Conn
	wmu  sync.Mutex

	// guarded by Server.mu
	topics map[string]struct{}
	pairs  map[string]struct{}
}

// outgoing is a message queued under the server lock and written after it
// is released.
type outgoing struct {
	to  *peer
	msg Message
}

// NewServer creates an empty rendezvous server.
func NewServer() *Server {
	return &Server{
		peers: make(map[*peer]struct{}),
		rooms: make(map[string]*room),
		pairs: make(map[string]*pair),
		index: make(map[pairKey]string),
	}
}

// Handler serves the WebSocket endpoint at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start rendezvous server: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Open WebSockets
// are closed on the way out.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}
	util.LogInfo("rendezvous server listening on %s", ln.Addr())

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(sctx)
		s.closeAll()
	})
	defer stop()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxMessageSize)

	p := &peer{
		conn:   conn,
		topics: make(map[string]struct{}),
		pairs:  make(map[string]struct{}),
	}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	util.Logf("peer connected from %s", r.RemoteAddr)

	defer func() {
		s.drop(p)
		conn.Close()
		util.Logf("peer %s disconnected", r.RemoteAddr)
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.handle(p, msg)
	}
}

func (s *Server) handle(p *peer, msg Message) {
	switch {
	case msg.Type == MsgTypeJoin:
		if msg.Topic == "" || (!msg.Server && !msg.Client) {
			p.send(Message{Type: MsgTypeError, Error: "join needs a topic and a mode"})
			return
		}
		for _, o := range s.join(p, msg.Topic, msg.Server, msg.Client) {
			o.to.send(o.msg)
		}

	case msg.Type == MsgTypeLeave:
		s.leave(p, msg.Topic)

	case msg.Type == MsgTypeUnpair:
		if to := s.unpair(p, msg.Pair); to != nil {
			to.send(Message{Type: MsgTypeUnpair, Pair: msg.Pair})
		}

	case msg.IsRelay():
		to := s.counterpart(p, msg.Pair)
		if to == nil {
			p.send(Message{Type: MsgTypeError, Pair: msg.Pair, Error: "unknown pair"})
			return
		}
		if err := to.send(msg); err != nil {
			util.Logf("relay %s for pair %s failed: %v", msg.Type, msg.Pair, err)
		}

	default:
		p.send(Message{Type: MsgTypeError, Error: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

// join adds p to the room and returns the acknowledgement followed by the
// pair announcements it triggers.
func (s *Server) join(p *peer, topic string, asServer, asClient bool) []outgoing {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[topic]
	if r == nil {
		r = &room{servers: make(map[*peer]struct{}), clients: make(map[*peer]struct{})}
		s.rooms[topic] = r
	}
	p.topics[topic] = struct{}{}

	out := []outgoing{{to: p, msg: Message{Type: MsgTypeJoined, Topic: topic}}}
	if asServer {
		r.servers[p] = struct{}{}
		for c := range r.clients {
			out = append(out, s.pairLocked(topic, c, p)...)
		}
	}
	if asClient {
		r.clients[p] = struct{}{}
		for sv := range r.servers {
			out = append(out, s.pairLocked(topic, p, sv)...)
		}
	}
	return out
}

func (s *Server) pairLocked(topic string, client, server *peer) []outgoing {
	if client == server {
		return nil
	}
	key := pairKey{topic: topic, client: client, server: server}
	if _, ok := s.index[key]; ok {
		return nil
	}

	pr := &pair{id: uuid.NewString(), topic: topic, initiator: client, responder: server}
	s.pairs[pr.id] = pr
	s.index[key] = pr.id
	client.pairs[pr.id] = struct{}{}
	server.pairs[pr.id] = struct{}{}

	return []outgoing{
		{to: server, msg: Message{Type: MsgTypePair, Topic: topic, Pair: pr.id}},
		{to: client, msg: Message{Type: MsgTypePair, Topic: topic, Pair: pr.id, Initiator: true}},
	}
}

// leave stops new pairings for p on topic. Established pairs keep relaying,
// but a later join on the same topic is paired afresh.
func (s *Server) leave(p *peer, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(p, topic)
}

func (s *Server) leaveLocked(p *peer, topic string) {
	delete(p.topics, topic)
	r := s.rooms[topic]
	if r == nil {
		return
	}
	delete(r.servers, p)
	delete(r.clients, p)
	if len(r.servers) == 0 && len(r.clients) == 0 {
		delete(s.rooms, topic)
	}
	for id := range p.pairs {
		if pr := s.pairs[id]; pr != nil && pr.topic == topic {
			s.unindexLocked(pr)
		}
	}
}

// unpair tears down pair id on behalf of one of its members and returns the
// other member, or nil when p is not part of the pair.
func (s *Server) unpair(p *peer, id string) *peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr := s.pairs[id]
	if pr == nil || (pr.initiator != p && pr.responder != p) {
		return nil
	}
	s.removePairLocked(pr)
	if pr.initiator == p {
		return pr.responder
	}
	return pr.initiator
}

func (s *Server) removePairLocked(pr *pair) {
	delete(s.pairs, pr.id)
	s.unindexLocked(pr)
	delete(pr.initiator.pairs, pr.id)
	delete(pr.responder.pairs, pr.id)
}

// unindexLocked frees the (topic, client, server) slot of pr so the two
// peers can be paired again. A newer pair in the same slot is left alone.
func (s *Server) unindexLocked(pr *pair) {
	key := pairKey{topic: pr.topic, client: pr.initiator, server: pr.responder}
	if s.index[key] == pr.id {
		delete(s.index, key)
	}
}

// counterpart returns the other member of the pair, or nil when p is not
// part of it.
func (s *Server) counterpart(p *peer, id string) *peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr := s.pairs[id]
	switch {
	case pr == nil:
		return nil
	case pr.initiator == p:
		return pr.responder
	case pr.responder == p:
		return pr.initiator
	}
	return nil
}

// drop removes a disconnected peer from every room and pair.
func (s *Server) drop(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.peers, p)
	for topic := range p.topics {
		s.leaveLocked(p, topic)
	}
	for id := range p.pairs {
		if pr := s.pairs[id]; pr != nil {
			s.removePairLocked(pr)
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
}

// NumPairs reports the number of live pairs.
func (s *Server) NumPairs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pairs)
}

func (p *peer) send(msg Message) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(msg)
}
