package rtcswarm

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mctunnel/internal/swarm"
	"github.com/1ureka/mctunnel/internal/util"
)

const (
	messageSize   = 16 * 1024  // bytes per DataChannel message
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
)

// Conn is a swarm.Conn backed by one PeerConnection and its single ordered
// DataChannel.
type Conn struct {
	swarm.Events

	pair string
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel

	wmu   sync.Mutex
	drain chan struct{}

	done   chan struct{}
	closed atomic.Bool
}

var _ swarm.Conn = (*Conn)(nil)

func newConn(pair string, pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *Conn {
	c := &Conn{
		pair:  pair,
		pc:    pc,
		dc:    dc,
		drain: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case c.drain <- struct{}{}:
		default:
		}
	})

	// pion reuses the message buffer after the callback returns.
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.EmitData(bytes.Clone(msg.Data))
	})
	dc.OnClose(func() {
		util.Logf("[%s] DataChannel closed", c.pair)
		c.Destroy(nil)
	})
	dc.OnError(func(err error) {
		c.Destroy(fmt.Errorf("datachannel: %w", err))
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.Logf("[%s] PeerConnection state: %s", c.pair, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed:
			c.Destroy(ErrPeerFailed)
		case webrtc.PeerConnectionStateClosed:
			c.Destroy(nil)
		}
	})
	return c
}

// Write sends p as one or more DataChannel messages, blocking while the
// channel's send buffer is above the high water mark.
func (c *Conn) Write(p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	for len(p) > 0 {
		for c.dc.BufferedAmount() > uint64(highWaterMark) {
			select {
			case <-c.drain:
			case <-c.done:
				return swarm.ErrConnClosed
			}
		}
		if c.closed.Load() {
			return swarm.ErrConnClosed
		}

		n := min(len(p), messageSize)
		if err := c.dc.Send(p[:n]); err != nil {
			return fmt.Errorf("datachannel send: %w", err)
		}
		p = p[n:]
	}
	return nil
}

// Destroy closes the DataChannel and PeerConnection. Listeners are notified
// synchronously; the pion teardown runs in the background because pion may
// call back into Destroy while closing.
func (c *Conn) Destroy(err error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	if err != nil {
		c.EmitError(err)
	}
	c.EmitClose()

	go func() {
		if err := errors.Join(c.dc.Close(), c.pc.Close()); err != nil {
			util.Logf("[%s] close: %v", c.pair, err)
		}
	}()
}

// Pair returns the rendezvous pair id this connection was negotiated for.
func (c *Conn) Pair() string { return c.pair }
