// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/1ureka/mctunnel/internal/swarm"
)

// Role represents the user's chosen role (host or join).
type Role string

const (
	RoleHost Role = "host"
	RoleJoin Role = "join"
)

// DefaultSignalURL points at a rendezvous server started with default flags
// on the same machine.
const DefaultSignalURL = "ws://127.0.0.1:8790/ws"

var (
	ErrInvalidRole = errors.New("invalid role: must be 'host' or 'join'")
	ErrInvalidPort = errors.New("invalid or missing port (must be 1~65535)")
	ErrMissingCode = errors.New("missing room code for join role")
)

// Config stores all parameters gathered from flags or the interactive prompts.
type Config struct {
	Role           Role
	LANPort        int           // Host: the game server port to forward
	Code           string        // Join: room code printed by the host
	SignalURL      string        // rendezvous WebSocket URL
	ConnectTimeout time.Duration // Join: how long a local connection waits for the host
	Debug          bool
}

// Validate checks the fields the chosen role needs and normalizes the
// signaling URL in place.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleHost:
		if c.LANPort < 1 || c.LANPort > 65535 {
			return ErrInvalidPort
		}
	case RoleJoin:
		if strings.TrimSpace(c.Code) == "" {
			return ErrMissingCode
		}
		if _, err := swarm.ParseTopic(c.Code); err != nil {
			return fmt.Errorf("invalid room code: %w", err)
		}
	default:
		return ErrInvalidRole
	}

	if c.ConnectTimeout < 0 {
		return fmt.Errorf("invalid connect timeout %s", c.ConnectTimeout)
	}
	if c.SignalURL == "" {
		c.SignalURL = DefaultSignalURL
	}
	u, err := NormalizeSignalURL(c.SignalURL)
	if err != nil {
		return err
	}
	c.SignalURL = u
	return nil
}

// NormalizeSignalURL validates a raw rendezvous URL and rewrites it to the
// /ws endpoint. Scheme defaults to wss; http(s) is mapped to ws(s).
func NormalizeSignalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid rendezvous URL: %s", raw)
	}
	scheme := "wss"
	switch u.Scheme {
	case "ws", "http":
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
