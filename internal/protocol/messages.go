// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package protocol

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// AwarenessUpdate is the awareness lane payload in both directions.
//
// Client -> server: {clientId?, payload, ttlMs?} upserts the sender's entry
// (the server ignores a client-supplied clientId and uses the connection's).
// Server -> clients: {clientId, payload} on change, {clientId, removed:true}
// on expiry or disconnect.
type AwarenessUpdate struct {
	ClientID string          `json:"clientId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	TTLMs    int64           `json:"ttlMs,omitempty"`
	Removed  bool            `json:"removed,omitempty"`
}

// DecodeAwareness parses an awareness lane payload.
func DecodeAwareness(payload []byte) (AwarenessUpdate, error) {
	var upd AwarenessUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		return AwarenessUpdate{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return upd, nil
}

// EncodeAwareness builds a complete awareness frame.
func EncodeAwareness(upd AwarenessUpdate) ([]byte, error) {
	return encodeJSONFrame(LaneAwareness, upd)
}

// EncodeAwarenessRemoval builds the removal notice for a client id.
func EncodeAwarenessRemoval(clientID string) ([]byte, error) {
	return encodeJSONFrame(LaneAwareness, AwarenessUpdate{ClientID: clientID, Removed: true})
}

// ChatMessage is the chat lane payload. Inbound frames carry {id, user,
// text}; the broadcast form adds the server-assigned timestamp. Client
// timestamps are never trusted.
type ChatMessage struct {
	ID              string `json:"id"`
	User            string `json:"user"`
	Text            string `json:"text"`
	ServerTimestamp string `json:"serverTimestamp,omitempty"`
}

// Stamp sets the server timestamp, overwriting anything client-supplied.
func (m *ChatMessage) Stamp(now time.Time) {
	m.ServerTimestamp = now.UTC().Format(time.RFC3339Nano)
}

// EncodeChat builds a complete chat broadcast frame.
func EncodeChat(msg ChatMessage) ([]byte, error) {
	return encodeJSONFrame(LaneChat, msg)
}

// ChatError is sent only to the offending sender when a submission is
// rejected.
type ChatError struct {
	Error string `json:"error"`
}

// EncodeChatError builds a chat rejection frame.
func EncodeChatError(reason string) ([]byte, error) {
	return encodeJSONFrame(LaneChat, ChatError{Error: reason})
}
