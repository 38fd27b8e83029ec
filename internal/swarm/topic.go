package swarm

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// TopicSize is the length of a topic in bytes.
const TopicSize = 32

var ErrInvalidTopic = errors.New("swarm: invalid topic")

// Topic is the 32-byte value both peers join. Its hex form is the room code.
type Topic [TopicSize]byte

// NewTopic returns a fresh random topic.
func NewTopic() (Topic, error) {
	var t Topic
	if _, err := rand.Read(t[:]); err != nil {
		return Topic{}, fmt.Errorf("generate topic: %w", err)
	}
	return t, nil
}

// ParseTopic decodes a 64-character hex room code.
func ParseTopic(code string) (Topic, error) {
	b, err := hex.DecodeString(strings.TrimSpace(code))
	if err != nil {
		return Topic{}, fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	if len(b) != TopicSize {
		return Topic{}, fmt.Errorf("%w: %d bytes (want %d)", ErrInvalidTopic, len(b), TopicSize)
	}
	var t Topic
	copy(t[:], b)
	return t, nil
}

// String returns the lowercase hex room code.
func (t Topic) String() string {
	return hex.EncodeToString(t[:])
}
