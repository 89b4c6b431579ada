package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// MaxFrameSize is the maximum accepted frame payload size (10 MB).
	MaxFrameSize = 10 * 1024 * 1024
	// DefaultConnectionTimeout bounds TCP dial duration.
	DefaultConnectionTimeout = 30 * time.Second
	// DefaultFrameReadTimeout bounds each frame read.
	DefaultFrameReadTimeout = 30 * time.Second
	// DefaultFrameWriteTimeout bounds each frame write.
	DefaultFrameWriteTimeout = 10 * time.Second
	// DefaultSendQueueSize is how many outbound frames may wait for the writer.
	DefaultSendQueueSize = 256
)

var (
	// ErrFrameTooLarge indicates payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("network: frame exceeds max size")
	// ErrInvalidMessageType indicates the message type is missing.
	ErrInvalidMessageType = errors.New("network: invalid message type")
	// ErrSendQueueFull closes a connection whose peer stopped reading.
	ErrSendQueueFull = errors.New("network: send queue full")
	// ErrListenerClosed is returned by Accept after Close.
	ErrListenerClosed = errors.New("network: listener closed")
)

// Envelope is the wire unit: a type tag plus its type-specific payload.
type Envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
}

// EncodeEnvelope marshals message under the given type tag.
func EncodeEnvelope(msgType string, message any) ([]byte, error) {
	if msgType == "" {
		return nil, ErrInvalidMessageType
	}

	var raw json.RawMessage
	switch m := message.(type) {
	case nil:
	case json.RawMessage:
		raw = m
	default:
		encoded, err := json.Marshal(message)
		if err != nil {
			return nil, fmt.Errorf("marshal %q payload: %w", msgType, err)
		}
		raw = encoded
	}

	payload, err := json.Marshal(Envelope{Type: msgType, Message: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return payload, nil
}

// DecodeEnvelope parses one wire payload.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Type == "" {
		return Envelope{}, ErrInvalidMessageType
	}
	return envelope, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

// ReadFrameWithTimeout reads a frame with an optional read deadline.
func ReadFrameWithTimeout(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
		}()
	}
	return ReadFrame(conn)
}
