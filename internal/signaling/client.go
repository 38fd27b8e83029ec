package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one peer's connection to a rendezvous server. Send may be called
// from any goroutine; Read must only be called from one.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial connects to the rendezvous WebSocket endpoint, e.g.
//
//	wss://rendezvous.example.net/ws
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rendezvous server: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &Client{conn: conn}, nil
}

// Send writes one message, guarded by a mutex.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Read blocks for the next message from the server.
func (c *Client) Read() (Message, error) {
	var msg Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Close closes the underlying WebSocket, which unblocks Read.
func (c *Client) Close() error {
	return c.conn.Close()
}
