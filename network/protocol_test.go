package network

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"name","message":"alice"}`)

	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buffer)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, MaxFrameSize+1)
	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, payload); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payload, err := EncodeEnvelope("clients", []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("EncodeEnvelope failed: %v", err)
	}
	if !bytes.Contains(payload, []byte(`"message":["alice","bob"]`)) {
		t.Fatalf("unexpected wire format: %s", payload)
	}

	envelope, err := DecodeEnvelope(payload)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if envelope.Type != "clients" {
		t.Fatalf("unexpected type %q", envelope.Type)
	}
	var names []string
	if err := json.Unmarshal(envelope.Message, &names); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if len(names) != 2 || names[1] != "bob" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestEncodeEnvelopePassesRawMessageThrough(t *testing.T) {
	raw := json.RawMessage(`{"from":"alice","target":"bob"}`)
	payload, err := EncodeEnvelope("gift", raw)
	if err != nil {
		t.Fatalf("EncodeEnvelope failed: %v", err)
	}
	envelope, err := DecodeEnvelope(payload)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if !bytes.Equal(envelope.Message, raw) {
		t.Fatalf("raw payload changed: %s", envelope.Message)
	}
}

func TestDecodeEnvelopeRejectsMissingType(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{"message":1}`)); !errors.Is(err, ErrInvalidMessageType) {
		t.Fatalf("expected ErrInvalidMessageType, got %v", err)
	}
	if _, err := DecodeEnvelope([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error for malformed payload")
	}
}
