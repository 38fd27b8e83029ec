package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame exceeds 65535 bytes")
	ErrInvalidLength = errors.New("protocol: frame length shorter than header")
	ErrShortFrame    = errors.New("protocol: incomplete frame")
)

// Encode serializes a Frame for transmission over a raw connection.
func Encode(f Frame) ([]byte, error) {
	size := HeaderSize + len(f.Payload)
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(size))
	binary.BigEndian.PutUint16(buf[2:4], f.SessionID)
	buf[4] = byte(f.Type)
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// Decode deserializes exactly one complete frame. The payload is copied so the
// result never aliases data.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortFrame, len(data), HeaderSize)
	}
	total := int(binary.BigEndian.Uint16(data[0:2]))
	if total < HeaderSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, total)
	}
	if len(data) < total {
		return nil, fmt.Errorf("%w: have %d of %d bytes", ErrShortFrame, len(data), total)
	}
	f := &Frame{
		SessionID: binary.BigEndian.Uint16(data[2:4]),
		Type:      Type(data[4]),
	}
	if total > HeaderSize {
		f.Payload = make([]byte, total-HeaderSize)
		copy(f.Payload, data[HeaderSize:total])
	}
	return f, nil
}

// Decoder accumulates bytes from an ordered stream and slices complete frames
// off the front. It is not safe for concurrent use; the owner of a raw
// connection feeds it from a single goroutine.
type Decoder struct {
	buf []byte
}

// Write appends a chunk received from the raw connection.
func (d *Decoder) Write(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered reports how many bytes are waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete frame. ok is false when more bytes are
// needed. A header declaring a length below HeaderSize returns
// ErrInvalidLength; the stream cannot be resynchronized after that.
func (d *Decoder) Next() (f Frame, ok bool, err error) {
	if len(d.buf) < HeaderSize {
		return Frame{}, false, nil
	}
	total := int(binary.BigEndian.Uint16(d.buf[0:2]))
	if total < HeaderSize {
		return Frame{}, false, fmt.Errorf("%w: %d", ErrInvalidLength, total)
	}
	if len(d.buf) < total {
		return Frame{}, false, nil
	}

	decoded, err := Decode(d.buf[:total])
	if err != nil {
		return Frame{}, false, err
	}

	d.buf = d.buf[total:]
	if len(d.buf) == 0 {
		d.buf = nil // release the backing array between bursts
	}
	return *decoded, true, nil
}
