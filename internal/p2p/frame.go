package p2p

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame body. A 512 KiB chunk encodes to
// roughly 700 KiB of JSON, so this leaves headroom for larger chunk sizes.
const MaxFrameSize = 16 * 1024 * 1024

// storeOverhead covers the envelope and StoreRequest fields around the
// base64 chunk bytes in a store_chunk frame.
const storeOverhead = 4 * 1024

// MaxChunkSize is the largest chunk whose base64 encoding still fits in a
// store_chunk frame.
const MaxChunkSize = (MaxFrameSize - storeOverhead) / 4 * 3

var (
	ErrEmptyFrame       = errors.New("p2p: empty frame")
	ErrFrameTooLarge    = errors.New("p2p: frame exceeds maximum size")
	ErrMalformedMessage = errors.New("p2p: malformed message")
	ErrDigestMismatch   = errors.New("p2p: chunk digest mismatch")
)

// WriteEnvelope writes env as a 4-byte big-endian length followed by its
// JSON encoding.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	msgBytes, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(msgBytes) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(msgBytes))
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.BigEndian, uint32(len(msgBytes))); err != nil {
		return fmt.Errorf("failed to write message length: %w", err)
	}
	if _, err := bw.Write(msgBytes); err != nil {
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush message: %w", err)
	}
	return nil
}

// ReadEnvelope reads exactly one frame from r. Zero-length, oversized and
// non-JSON frames are rejected without reading further.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read message length: %w", err)
	}

	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	msgBytes := make([]byte, length)
	if _, err := io.ReadFull(r, msgBytes); err != nil {
		return nil, fmt.Errorf("failed to read message data: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(msgBytes, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return &env, nil
}

// WriteMessage wraps payload in a new envelope and writes it.
func WriteMessage(w io.Writer, msgType MessageType, payload interface{}) error {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return WriteEnvelope(w, env)
}
