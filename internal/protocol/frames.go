// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Lane identifies the logical channel a frame belongs to.
type Lane byte

// Wire lanes, demultiplexed by the leading frame byte.
const (
	LaneSync      Lane = 0x00
	LaneAwareness Lane = 0x01
	LaneChat      Lane = 0x02
)

// Sync lane sub-operations (second byte of a sync frame).
const (
	// SyncOpInit carries the join handshake: a JSON SyncInit body.
	// It must be the first frame a client sends.
	SyncOpInit byte = 0x00

	// SyncOpUpdate carries opaque CRDT update bytes in either direction.
	// The server's full-state catch-up on join uses this op too.
	SyncOpUpdate byte = 0x01
)

// Protocol decode errors. All of them are dropped-and-logged conditions;
// none closes the connection.
var (
	ErrEmptyFrame  = errors.New("protocol: empty frame")
	ErrUnknownLane = errors.New("protocol: unknown lane")
	ErrEmptySync   = errors.New("protocol: sync frame without op byte")
	ErrUnknownOp   = errors.New("protocol: unknown sync op")
	ErrBadPayload  = errors.New("protocol: undecodable payload")
	ErrEmptyRoom   = errors.New("protocol: init without room name")
)

// String returns the lane name used in logs and metrics labels.
func (l Lane) String() string {
	switch l {
	case LaneSync:
		return "sync"
	case LaneAwareness:
		return "awareness"
	case LaneChat:
		return "chat"
	default:
		return fmt.Sprintf("lane-0x%02x", byte(l))
	}
}

// Frame is a decoded wire frame: lane plus raw lane payload.
type Frame struct {
	Lane    Lane
	Payload []byte
}

// DecodeFrame splits a raw websocket message into lane and payload.
// The payload aliases the input; callers must not retain it past the
// read loop iteration.
func DecodeFrame(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	lane := Lane(raw[0])
	switch lane {
	case LaneSync, LaneAwareness, LaneChat:
		return Frame{Lane: lane, Payload: raw[1:]}, nil
	default:
		return Frame{}, fmt.Errorf("%w: 0x%02x", ErrUnknownLane, raw[0])
	}
}

// DecodeSync splits a sync lane payload into its op byte and body.
func DecodeSync(payload []byte) (op byte, body []byte, err error) {
	if len(payload) == 0 {
		return 0, nil, ErrEmptySync
	}
	op = payload[0]
	if op != SyncOpInit && op != SyncOpUpdate {
		return 0, nil, fmt.Errorf("%w: 0x%02x", ErrUnknownOp, op)
	}
	return op, payload[1:], nil
}

// SyncInit is the join handshake body.
type SyncInit struct {
	Room string `json:"room"`
}

// DecodeSyncInit parses an init body and validates the room name.
func DecodeSyncInit(body []byte) (SyncInit, error) {
	var init SyncInit
	if err := json.Unmarshal(body, &init); err != nil {
		return SyncInit{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if init.Room == "" {
		return SyncInit{}, ErrEmptyRoom
	}
	return init, nil
}

// EncodeSyncInit builds a complete init frame. Client-side helper, used by
// tests and embedding hosts.
func EncodeSyncInit(room string) ([]byte, error) {
	body, err := json.Marshal(SyncInit{Room: room})
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 2+len(body))
	frame = append(frame, byte(LaneSync), SyncOpInit)
	return append(frame, body...), nil
}

// EncodeSyncUpdate builds a complete sync update frame around opaque CRDT
// update bytes.
func EncodeSyncUpdate(update []byte) []byte {
	frame := make([]byte, 0, 2+len(update))
	frame = append(frame, byte(LaneSync), SyncOpUpdate)
	return append(frame, update...)
}

// encodeJSONFrame marshals v and prefixes the lane byte.
func encodeJSONFrame(lane Lane, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 1+len(body))
	frame = append(frame, byte(lane))
	return append(frame, body...), nil
}
