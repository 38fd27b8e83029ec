// Package signaling implements the topic rendezvous used by the WebRTC swarm
// provider: peers announce the discovery keys they are interested in, the
// server pairs server-mode peers with client-mode peers, and SDP/ICE
// messages for each pair are relayed over WebSocket.
package signaling

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeJoin      MessageType = "join"   // peer → server
	MsgTypeLeave     MessageType = "leave"  // peer → server
	MsgTypeJoined    MessageType = "joined" // server → peer, join acknowledged
	MsgTypePair      MessageType = "pair"   // server → peer, new pair to negotiate
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
	MsgTypeUnpair    MessageType = "unpair" // both ways, pair torn down
	MsgTypeError     MessageType = "error"
)

// Message is the JSON structure exchanged over the WebSocket.
type Message struct {
	Type MessageType `json:"type"`

	// Topic is the hex discovery key, never the topic itself.
	Topic  string `json:"topic,omitempty"`
	Server bool   `json:"server,omitempty"`
	Client bool   `json:"client,omitempty"`

	Pair      string `json:"pair,omitempty"`
	Initiator bool   `json:"initiator,omitempty"`

	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit

	Error string `json:"error,omitempty"`
}

// IsRelay reports whether m is forwarded verbatim to the other side of a pair.
func (m Message) IsRelay() bool {
	switch m.Type {
	case MsgTypeOffer, MsgTypeAnswer, MsgTypeCandidate:
		return true
	}
	return false
}
