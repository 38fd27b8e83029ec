package memswarm

import (
	"bytes"
	"sync/atomic"

	"github.com/1ureka/mctunnel/internal/swarm"
)

// inboxSize bounds the chunks in flight per direction; a full inbox blocks
// the writer.
const inboxSize = 256

// Conn is one end of an in-memory ordered duplex pipe.
type Conn struct {
	swarm.Events

	peer   *Conn
	inbox  chan []byte
	done   chan struct{}
	closed atomic.Bool
}

// Pipe returns two connected ends. Bytes written to one are emitted, in
// order, as data on the other.
func Pipe() (*Conn, *Conn) {
	a := &Conn{inbox: make(chan []byte, inboxSize), done: make(chan struct{})}
	b := &Conn{inbox: make(chan []byte, inboxSize), done: make(chan struct{})}
	a.peer, b.peer = b, a
	go a.deliver()
	go b.deliver()
	return a, b
}

func (c *Conn) Write(p []byte) error {
	if c.closed.Load() {
		return swarm.ErrConnClosed
	}
	chunk := bytes.Clone(p)
	select {
	case c.peer.inbox <- chunk:
		return nil
	case <-c.done:
		return swarm.ErrConnClosed
	case <-c.peer.done:
		return swarm.ErrConnClosed
	}
}

// Destroy closes both ends.
func (c *Conn) Destroy(err error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	if err != nil {
		c.EmitError(err)
	}
	c.EmitClose()
	c.peer.Destroy(nil)
}

// deliver is the single goroutine emitting this end's inbound data.
func (c *Conn) deliver() {
	for {
		select {
		case chunk := <-c.inbox:
			c.EmitData(chunk)
		case <-c.done:
			return
		}
	}
}
