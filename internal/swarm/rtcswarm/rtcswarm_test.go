package rtcswarm

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mctunnel/internal/signaling"
	"github.com/1ureka/mctunnel/internal/swarm"
)

func TestDiscoveryKey(t *testing.T) {
	a, _ := swarm.NewTopic()
	b, _ := swarm.NewTopic()

	ka := DiscoveryKey(a)
	if len(ka) != 64 {
		t.Fatalf("key length = %d", len(ka))
	}
	if ka != DiscoveryKey(a) {
		t.Fatal("key is not deterministic")
	}
	if ka == DiscoveryKey(b) {
		t.Fatal("different topics share a key")
	}
	if ka == a.String() {
		t.Fatal("key reveals the topic")
	}
}

func TestDataChannelIsOrderedAndNegotiated(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	defer pc.Close()

	dc, err := newDataChannel(pc)
	if err != nil {
		t.Fatalf("newDataChannel: %v", err)
	}
	if !dc.Ordered() {
		t.Error("DataChannel is unordered")
	}
	if !dc.Negotiated() {
		t.Error("DataChannel is not pre-negotiated")
	}
	if id := dc.ID(); id == nil || *id != 0 {
		t.Errorf("DataChannel id = %v", id)
	}
}

func TestDiscoveryFlushed(t *testing.T) {
	signaled := make(chan struct{})
	d := newDiscovery(signaled)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Flushed(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Flushed before ack = %v", err)
	}

	close(signaled)
	if err := d.Flushed(context.Background()); !errors.Is(err, ErrSignalingClosed) {
		t.Fatalf("Flushed after signaling closed = %v", err)
	}

	d.ack()
	if err := d.Flushed(context.Background()); err != nil {
		t.Fatalf("Flushed after ack = %v", err)
	}
}

func TestJoinIsAcknowledged(t *testing.T) {
	ts := httptest.NewServer(signaling.NewServer().Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Dial(ctx, Options{SignalURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	topic, _ := swarm.NewTopic()
	d, err := s.Join(topic, swarm.JoinOptions{Server: true})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := d.Flushed(ctx); err != nil {
		t.Fatalf("Flushed: %v", err)
	}
	if err := s.Leave(topic); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	s.Destroy()
	if _, err := s.Join(topic, swarm.JoinOptions{Server: true}); !errors.Is(err, swarm.ErrDestroyed) {
		t.Fatalf("Join after Destroy = %v", err)
	}
	if n := len(s.Connections()); n != 0 {
		t.Fatalf("%d connections after Destroy", n)
	}
}

func TestJoinFailureForgetsTopic(t *testing.T) {
	ts := httptest.NewServer(signaling.NewServer().Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Dial(ctx, Options{SignalURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Destroy()

	s.client.Close()
	<-s.signaled

	topic, _ := swarm.NewTopic()
	if _, err := s.Join(topic, swarm.JoinOptions{Client: true}); err == nil {
		t.Fatal("Join succeeded without a rendezvous connection")
	}
	s.mu.Lock()
	n := len(s.joins)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d joins registered after a failed Join", n)
	}
}
