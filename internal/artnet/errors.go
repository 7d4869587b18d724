package artnet

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPacket marks datagrams that are dropped without further
	// processing: wrong identifier, truncated header, zero or unknown opcode,
	// or a payload too short for its declared opcode.
	ErrMalformedPacket = errors.New("malformed art-net packet")

	// ErrInvalidAddress marks a net/subnet/universe combination above the
	// 15-bit ceiling after carries have been applied.
	ErrInvalidAddress = errors.New("invalid port address")

	// ErrInvalidChannel marks a DMX channel index outside 0..511.
	ErrInvalidChannel = errors.New("channel out of range")

	// ErrInvalidValue marks a DMX channel value outside 0..255.
	ErrInvalidValue = errors.New("channel value out of range")
)

// TransportError wraps a bind or send failure of the UDP transport. It is
// delivered to the engine's error sink; when no sink is configured the
// engine panics, matching the behavior of raising on an unhandled error.
type TransportError struct {
	Op  string // "bind" or "send"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
