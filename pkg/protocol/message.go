// Package protocol implements the three-message document sync protocol
// carried over a best-effort broadcast channel: steady-state update
// broadcasts, and the sync-request/sync-response exchange that brings a
// late joiner or reconnected replica to convergence.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType is the closed set of wire message kinds.
type MessageType string

const (
	// TypeUpdate carries a delta for one or more local writes.
	TypeUpdate MessageType = "update"
	// TypeSyncRequest carries the sender's version summary.
	TypeSyncRequest MessageType = "sync-request"
	// TypeSyncResponse carries the delta a requester was missing.
	TypeSyncResponse MessageType = "sync-response"
)

// Envelope is the self-contained wire payload. Payload is the opaque CRDT
// delta or version summary; []byte round-trips through JSON as base64.
type Envelope struct {
	Type    MessageType `json:"type"`
	Payload []byte      `json:"payload"`
}

// Encode serialises an envelope.
func Encode(t MessageType, payload []byte) ([]byte, error) {
	raw, err := json.Marshal(Envelope{Type: t, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", t, err)
	}
	return raw, nil
}

// Decode parses and validates an envelope. Unknown types are an error so
// one malformed message is discarded without touching local state.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode message: %w", err)
	}
	switch e.Type {
	case TypeUpdate, TypeSyncRequest, TypeSyncResponse:
	default:
		return Envelope{}, fmt.Errorf("unknown message type %q", e.Type)
	}
	return e, nil
}
