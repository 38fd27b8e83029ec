package signaling

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func dialTest(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func expect(t *testing.T, c *Client, typ MessageType) Message {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := c.Read()
	if err != nil {
		t.Fatalf("waiting for %s: %v", typ, err)
	}
	if msg.Type != typ {
		t.Fatalf("got %s (%+v), want %s", msg.Type, msg, typ)
	}
	return msg
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestServerPairsAndRelays(t *testing.T) {
	srv, url := startServer(t)
	host, guest := dialTest(t, url), dialTest(t, url)

	host.Send(Message{Type: MsgTypeJoin, Topic: "abcd", Server: true})
	expect(t, host, MsgTypeJoined)

	guest.Send(Message{Type: MsgTypeJoin, Topic: "abcd", Client: true})
	expect(t, guest, MsgTypeJoined)

	gp := expect(t, guest, MsgTypePair)
	hp := expect(t, host, MsgTypePair)
	if gp.Pair == "" || gp.Pair != hp.Pair {
		t.Fatalf("pair ids: guest=%q host=%q", gp.Pair, hp.Pair)
	}
	if !gp.Initiator || hp.Initiator {
		t.Fatalf("initiator flags: guest=%v host=%v", gp.Initiator, hp.Initiator)
	}

	guest.Send(Message{Type: MsgTypeOffer, Pair: gp.Pair, SDP: "v=0 offer"})
	if got := expect(t, host, MsgTypeOffer); got.SDP != "v=0 offer" || got.Pair != gp.Pair {
		t.Fatalf("relayed offer = %+v", got)
	}

	host.Send(Message{Type: MsgTypeAnswer, Pair: hp.Pair, SDP: "v=0 answer"})
	if got := expect(t, guest, MsgTypeAnswer); got.SDP != "v=0 answer" {
		t.Fatalf("relayed answer = %+v", got)
	}

	host.Send(Message{Type: MsgTypeCandidate, Pair: hp.Pair, Candidate: `{"candidate":"x"}`})
	if got := expect(t, guest, MsgTypeCandidate); got.Candidate != `{"candidate":"x"}` {
		t.Fatalf("relayed candidate = %+v", got)
	}

	if srv.NumPairs() != 1 {
		t.Fatalf("NumPairs = %d", srv.NumPairs())
	}
}

func TestServerRejectsRelayForForeignPair(t *testing.T) {
	_, url := startServer(t)
	host, guest, stranger := dialTest(t, url), dialTest(t, url), dialTest(t, url)

	host.Send(Message{Type: MsgTypeJoin, Topic: "t", Server: true})
	expect(t, host, MsgTypeJoined)
	guest.Send(Message{Type: MsgTypeJoin, Topic: "t", Client: true})
	expect(t, guest, MsgTypeJoined)
	gp := expect(t, guest, MsgTypePair)

	stranger.Send(Message{Type: MsgTypeOffer, Pair: gp.Pair, SDP: "evil"})
	if got := expect(t, stranger, MsgTypeError); got.Pair != gp.Pair {
		t.Fatalf("error = %+v", got)
	}
}

func TestServerDropsPairsOnDisconnect(t *testing.T) {
	srv, url := startServer(t)
	host, guest := dialTest(t, url), dialTest(t, url)

	host.Send(Message{Type: MsgTypeJoin, Topic: "t", Server: true})
	expect(t, host, MsgTypeJoined)
	guest.Send(Message{Type: MsgTypeJoin, Topic: "t", Client: true})
	expect(t, guest, MsgTypeJoined)
	hp := expect(t, host, MsgTypePair)

	guest.Close()
	deadline := time.Now().Add(2 * time.Second)
	for srv.NumPairs() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("pair survived disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	host.Send(Message{Type: MsgTypeOffer, Pair: hp.Pair})
	expect(t, host, MsgTypeError)
}

func TestServerRequiresJoinMode(t *testing.T) {
	_, url := startServer(t)
	c := dialTest(t, url)

	c.Send(Message{Type: MsgTypeJoin, Topic: "t"})
	expect(t, c, MsgTypeError)

	c.Send(Message{Type: "bogus"})
	expect(t, c, MsgTypeError)
}

func TestServerPairsAgainAfterRejoin(t *testing.T) {
	_, url := startServer(t)
	host, guest := dialTest(t, url), dialTest(t, url)

	host.Send(Message{Type: MsgTypeJoin, Topic: "t", Server: true})
	expect(t, host, MsgTypeJoined)
	guest.Send(Message{Type: MsgTypeJoin, Topic: "t", Client: true})
	expect(t, guest, MsgTypeJoined)
	first := expect(t, guest, MsgTypePair)
	expect(t, host, MsgTypePair)

	guest.Send(Message{Type: MsgTypeLeave, Topic: "t"})
	guest.Send(Message{Type: MsgTypeJoin, Topic: "t", Client: true})
	expect(t, guest, MsgTypeJoined)

	second := expect(t, guest, MsgTypePair)
	if second.Pair == first.Pair || !second.Initiator {
		t.Fatalf("rejoin pair = %+v, first pair %q", second, first.Pair)
	}
	if got := expect(t, host, MsgTypePair); got.Pair != second.Pair {
		t.Fatalf("host pair = %q, want %q", got.Pair, second.Pair)
	}

	// the pair from before the leave still relays until it is released
	guest.Send(Message{Type: MsgTypeCandidate, Pair: first.Pair, Candidate: "c"})
	if got := expect(t, host, MsgTypeCandidate); got.Pair != first.Pair {
		t.Fatalf("relayed candidate = %+v", got)
	}
}

func TestServerUnpairReleasesPair(t *testing.T) {
	srv, url := startServer(t)
	host, guest := dialTest(t, url), dialTest(t, url)

	host.Send(Message{Type: MsgTypeJoin, Topic: "t", Server: true})
	expect(t, host, MsgTypeJoined)
	guest.Send(Message{Type: MsgTypeJoin, Topic: "t", Client: true})
	expect(t, guest, MsgTypeJoined)
	gp := expect(t, guest, MsgTypePair)
	expect(t, host, MsgTypePair)

	guest.Send(Message{Type: MsgTypeUnpair, Pair: gp.Pair})
	if got := expect(t, host, MsgTypeUnpair); got.Pair != gp.Pair {
		t.Fatalf("unpair = %+v", got)
	}
	if srv.NumPairs() != 0 {
		t.Fatalf("NumPairs = %d after unpair", srv.NumPairs())
	}

	guest.Send(Message{Type: MsgTypeOffer, Pair: gp.Pair})
	expect(t, guest, MsgTypeError)

	// both peers are still in the room; a fresh join pairs them again
	guest.Send(Message{Type: MsgTypeLeave, Topic: "t"})
	guest.Send(Message{Type: MsgTypeJoin, Topic: "t", Client: true})
	expect(t, guest, MsgTypeJoined)
	if got := expect(t, guest, MsgTypePair); got.Pair == gp.Pair {
		t.Fatal("released pair id reused")
	}
}
