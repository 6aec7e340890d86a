// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		want    Lane
		wantErr error
	}{
		{"sync", []byte{0x00, 0x01, 0xAB}, LaneSync, nil},
		{"awareness", []byte{0x01, '{', '}'}, LaneAwareness, nil},
		{"chat", []byte{0x02, '{', '}'}, LaneChat, nil},
		{"empty", nil, 0, ErrEmptyFrame},
		{"unknown lane", []byte{0x07, 0x00}, 0, ErrUnknownLane},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeFrame = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFrame: %v", err)
			}
			if frame.Lane != tt.want {
				t.Errorf("lane = %v, want %v", frame.Lane, tt.want)
			}
			if !bytes.Equal(frame.Payload, tt.raw[1:]) {
				t.Errorf("payload = %x, want %x", frame.Payload, tt.raw[1:])
			}
		})
	}
}

func TestSyncInitRoundTrip(t *testing.T) {
	raw, err := EncodeSyncInit("room-7")
	if err != nil {
		t.Fatalf("EncodeSyncInit: %v", err)
	}

	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Lane != LaneSync {
		t.Fatalf("lane = %v, want sync", frame.Lane)
	}

	op, body, err := DecodeSync(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeSync: %v", err)
	}
	if op != SyncOpInit {
		t.Fatalf("op = 0x%02x, want init", op)
	}

	init, err := DecodeSyncInit(body)
	if err != nil {
		t.Fatalf("DecodeSyncInit: %v", err)
	}
	if init.Room != "room-7" {
		t.Errorf("room = %q, want room-7", init.Room)
	}
}

func TestDecodeSyncErrors(t *testing.T) {
	if _, _, err := DecodeSync(nil); !errors.Is(err, ErrEmptySync) {
		t.Errorf("empty sync payload: got %v, want ErrEmptySync", err)
	}
	if _, _, err := DecodeSync([]byte{0x7F}); !errors.Is(err, ErrUnknownOp) {
		t.Errorf("unknown op: got %v, want ErrUnknownOp", err)
	}
}

func TestDecodeSyncInitErrors(t *testing.T) {
	if _, err := DecodeSyncInit([]byte("not json")); !errors.Is(err, ErrBadPayload) {
		t.Errorf("bad json: got %v, want ErrBadPayload", err)
	}
	if _, err := DecodeSyncInit([]byte(`{"room":""}`)); !errors.Is(err, ErrEmptyRoom) {
		t.Errorf("empty room: got %v, want ErrEmptyRoom", err)
	}
}

func TestEncodeSyncUpdate(t *testing.T) {
	update := []byte{0xDE, 0xAD}
	raw := EncodeSyncUpdate(update)

	if raw[0] != byte(LaneSync) || raw[1] != SyncOpUpdate {
		t.Fatalf("header = %x, want sync/update", raw[:2])
	}
	if !bytes.Equal(raw[2:], update) {
		t.Errorf("body = %x, want %x", raw[2:], update)
	}
}

func TestAwarenessRoundTrip(t *testing.T) {
	raw, err := EncodeAwareness(AwarenessUpdate{
		ClientID: "c1",
		Payload:  json.RawMessage(`{"cursor":{"line":3,"col":14}}`),
	})
	if err != nil {
		t.Fatalf("EncodeAwareness: %v", err)
	}

	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	upd, err := DecodeAwareness(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeAwareness: %v", err)
	}
	if upd.ClientID != "c1" || upd.Removed {
		t.Errorf("decoded = %+v", upd)
	}
}

func TestAwarenessRemoval(t *testing.T) {
	raw, err := EncodeAwarenessRemoval("gone")
	if err != nil {
		t.Fatalf("EncodeAwarenessRemoval: %v", err)
	}
	frame, _ := DecodeFrame(raw)
	upd, err := DecodeAwareness(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeAwareness: %v", err)
	}
	if upd.ClientID != "gone" || !upd.Removed {
		t.Errorf("decoded = %+v, want removal for %q", upd, "gone")
	}
}

func TestChatStampOverwritesClientTimestamp(t *testing.T) {
	msg := ChatMessage{ID: "m1", User: "ada", Text: "hi", ServerTimestamp: "1999-01-01T00:00:00Z"}
	msg.Stamp(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))

	if msg.ServerTimestamp != "2026-08-29T10:00:00Z" {
		t.Errorf("ServerTimestamp = %q, want server-assigned value", msg.ServerTimestamp)
	}

	raw, err := EncodeChat(msg)
	if err != nil {
		t.Fatalf("EncodeChat: %v", err)
	}
	if Lane(raw[0]) != LaneChat {
		t.Errorf("lane = %v, want chat", Lane(raw[0]))
	}
}
