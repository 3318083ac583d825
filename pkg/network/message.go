package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessageSize bounds the payload length accepted on a stream.
const MaxMessageSize = 4 << 20

// Message is one framed protocol message carried on a QUIC stream.
// The wire format is a single kind byte, a little-endian uint32 payload
// length, then the payload bytes.
type Message struct {
	// Kind identifies the payload type; see host.MessageKind
	Kind byte
	// Payload contains the canonically encoded request or response
	Payload []byte
}

// WriteMessage writes a framed message to w.
func WriteMessage(w io.Writer, msg Message) error {
	if _, err := w.Write([]byte{msg.Kind}); err != nil {
		return fmt.Errorf("failed to write message kind: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(msg.Payload))); err != nil {
		return fmt.Errorf("failed to write message size: %w", err)
	}
	if _, err := w.Write(msg.Payload); err != nil {
		return fmt.Errorf("failed to write message payload: %w", err)
	}
	return nil
}

// ReadMessage reads a framed message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return nil, fmt.Errorf("failed to read message kind: %w", err)
	}

	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("failed to read message size: %w", err)
	}
	if size > MaxMessageSize {
		return nil, fmt.Errorf("message size %d exceeds limit %d", size, MaxMessageSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read message payload: %w", err)
	}
	return &Message{Kind: kind[0], Payload: payload}, nil
}
