package memswarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/1ureka/mctunnel/internal/swarm"
)

// collect subscribes to s and forwards every new connection to a channel.
func collect(s *Swarm) <-chan swarm.Conn {
	ch := make(chan swarm.Conn, 4)
	s.OnConnection(func(c swarm.Conn) { ch <- c })
	return ch
}

func waitConn(t *testing.T, ch <-chan swarm.Conn) swarm.Conn {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func TestServerAndClientArePaired(t *testing.T) {
	n := NewNetwork()
	host, guest := n.NewSwarm(), n.NewSwarm()
	defer host.Destroy()
	defer guest.Destroy()

	topic, _ := swarm.NewTopic()
	hostConns, guestConns := collect(host), collect(guest)

	d, err := host.Join(topic, swarm.JoinOptions{Server: true})
	if err != nil {
		t.Fatalf("host Join: %v", err)
	}
	if err := d.Flushed(context.Background()); err != nil {
		t.Fatalf("Flushed: %v", err)
	}
	if _, err := guest.Join(topic, swarm.JoinOptions{Client: true}); err != nil {
		t.Fatalf("guest Join: %v", err)
	}

	hc := waitConn(t, hostConns)
	gc := waitConn(t, guestConns)

	got := make(chan string, 1)
	hc.OnData(func(b []byte) { got <- string(b) })
	if err := gc.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case s := <-got:
		if s != "hello" {
			t.Fatalf("got %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("data not delivered")
	}

	if len(host.Connections()) != 1 || len(guest.Connections()) != 1 {
		t.Fatalf("connections: host=%d guest=%d", len(host.Connections()), len(guest.Connections()))
	}
}

func TestClientsAreNotPairedWithEachOther(t *testing.T) {
	n := NewNetwork()
	a, b := n.NewSwarm(), n.NewSwarm()
	defer a.Destroy()
	defer b.Destroy()

	topic, _ := swarm.NewTopic()
	a.Join(topic, swarm.JoinOptions{Client: true})
	b.Join(topic, swarm.JoinOptions{Client: true})

	if len(a.Connections()) != 0 || len(b.Connections()) != 0 {
		t.Fatal("two clients were connected")
	}
}

func TestLeaveStopsPairing(t *testing.T) {
	n := NewNetwork()
	host, guest := n.NewSwarm(), n.NewSwarm()
	defer host.Destroy()
	defer guest.Destroy()

	topic, _ := swarm.NewTopic()
	host.Join(topic, swarm.JoinOptions{Server: true})
	host.Leave(topic)
	guest.Join(topic, swarm.JoinOptions{Client: true})

	if len(guest.Connections()) != 0 {
		t.Fatal("guest paired with a host that left")
	}
}

func TestDestroyClosesBothEnds(t *testing.T) {
	n := NewNetwork()
	host, guest := n.NewSwarm(), n.NewSwarm()
	defer guest.Destroy()

	topic, _ := swarm.NewTopic()
	host.Join(topic, swarm.JoinOptions{Server: true})
	guest.Join(topic, swarm.JoinOptions{Client: true})

	gc := guest.Connections()[0]
	closed := make(chan struct{})
	gc.OnClose(func() { close(closed) })

	host.Destroy()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("guest end not closed")
	}
	if len(guest.Connections()) != 0 {
		t.Fatal("closed connection still listed")
	}
	if err := gc.Write([]byte("x")); !errors.Is(err, swarm.ErrConnClosed) {
		t.Fatalf("Write after close: %v", err)
	}
	if _, err := host.Join(topic, swarm.JoinOptions{Server: true}); !errors.Is(err, swarm.ErrDestroyed) {
		t.Fatalf("Join after Destroy: %v", err)
	}
}

func TestPipeReportsDestroyError(t *testing.T) {
	a, b := Pipe()
	boom := errors.New("boom")

	gotErr := make(chan error, 1)
	a.OnError(func(err error) { gotErr <- err })
	bClosed := make(chan struct{})
	b.OnClose(func() { close(bClosed) })

	a.Destroy(boom)

	if err := <-gotErr; !errors.Is(err, boom) {
		t.Fatalf("error = %v", err)
	}
	<-bClosed
}

func TestPipePreservesOrder(t *testing.T) {
	a, b := Pipe()
	defer a.Destroy(nil)

	const n = 1000
	got := make(chan byte, n)
	b.OnData(func(p []byte) {
		for _, c := range p {
			got <- c
		}
	})
	for i := range n {
		if err := a.Write([]byte{byte(i)}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	for i := range n {
		if c := <-got; c != byte(i) {
			t.Fatalf("byte %d = %d", i, c)
		}
	}
}
