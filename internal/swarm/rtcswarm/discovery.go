package rtcswarm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/1ureka/mctunnel/internal/swarm"
)

const discoveryInfo = "mctunnel/discovery"

// DiscoveryKey derives the key a topic is announced under. The rendezvous
// server never sees the topic, so it cannot join the tunnel itself.
func DiscoveryKey(topic swarm.Topic) string {
	r := hkdf.New(sha256.New, topic[:], nil, []byte(discoveryInfo))
	key := make([]byte, swarm.TopicSize)
	if _, err := io.ReadFull(r, key); err != nil {
		panic(err) // hkdf cannot run dry for 32 bytes of SHA-256
	}
	return hex.EncodeToString(key)
}

// discovery resolves once the server acknowledges the join.
type discovery struct {
	acked    chan struct{}
	ackOnce  sync.Once
	signaled <-chan struct{} // closed when the signaling connection is gone
}

func newDiscovery(signaled <-chan struct{}) *discovery {
	return &discovery{acked: make(chan struct{}), signaled: signaled}
}

func (d *discovery) ack() {
	d.ackOnce.Do(func() { close(d.acked) })
}

func (d *discovery) Flushed(ctx context.Context) error {
	select {
	case <-d.acked:
		return nil
	case <-d.signaled:
		select {
		case <-d.acked:
			return nil
		default:
		}
		return ErrSignalingClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
