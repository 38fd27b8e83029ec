// Package protocol defines the frame format spoken over a raw peer connection.
//
// Every frame carries a 5-byte big-endian header followed by its payload:
//
//	totalLength (2) | sessionID (2) | type (1) | payload (totalLength-5)
//
// totalLength counts the header, so a single frame holds at most 65530
// payload bytes.
package protocol

import "fmt"

// Type identifies the kind of frame.
type Type uint8

// Frame type constants.
const (
	TypeData  Type = 0 // Session payload bytes
	TypeOpen  Type = 1 // New session announced by the remote side
	TypeClose Type = 2 // Session finished
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeOpen:
		return "OPEN"
	case TypeClose:
		return "CLOSE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Size limits.
const (
	HeaderSize     = 5                         // totalLength(2) + sessionID(2) + type(1)
	MaxFrameSize   = 65535                     // largest value totalLength can hold
	MaxPayloadSize = MaxFrameSize - HeaderSize // 65530
	SplitSize      = 60000                     // chunk size used when a payload does not fit one frame
)

// Frame is a single multiplexed unit on the wire.
type Frame struct {
	SessionID uint16
	Type      Type
	Payload   []byte // Only meaningful for TypeData
}
