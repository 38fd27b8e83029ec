// Package swarm defines the rendezvous contract the tunnel consumes: peers
// joining the same topic are handed raw duplex connections to each other.
// Providers live in sub-packages.
package swarm

import (
	"context"
	"errors"
)

var (
	ErrDestroyed  = errors.New("swarm: destroyed")
	ErrConnClosed = errors.New("swarm: connection closed")
)

// JoinOptions selects how a peer participates in a topic. Server peers accept
// connections from client peers on the same topic.
type JoinOptions struct {
	Server bool
	Client bool
}

// Discovery is the handle returned by Join.
type Discovery interface {
	// Flushed blocks until the provider has acknowledged the join.
	Flushed(ctx context.Context) error
}

// Swarm is a topic-based peer discovery provider.
type Swarm interface {
	Join(topic Topic, opts JoinOptions) (Discovery, error)
	Leave(topic Topic) error

	// Connections returns the currently live peer connections.
	Connections() []Conn

	// OnConnection registers fn for every new peer connection.
	OnConnection(fn func(Conn)) (off func())

	Destroy() error
}

// Conn is an ordered full-duplex byte stream to one peer. Chunk boundaries
// carry no meaning.
type Conn interface {
	Write(p []byte) error

	OnData(fn func([]byte)) (off func())
	OnClose(fn func()) (off func())
	OnError(fn func(error)) (off func())

	// Destroy tears the connection down. A non-nil err is reported to
	// OnError listeners before the close notification.
	Destroy(err error)
}
