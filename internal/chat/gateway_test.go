// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package chat

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/collabd/collabd/internal/protocol"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	frames [][]byte
	fail   error
}

func (b *captureBroadcaster) BroadcastChat(_, _ string, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.frames = append(b.frames, frame)
	return nil
}

func (b *captureBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func (b *captureBroadcaster) last(t *testing.T) protocol.ChatMessage {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		t.Fatal("nothing broadcast")
	}
	frame, err := protocol.DecodeFrame(b.frames[len(b.frames)-1])
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Lane != protocol.LaneChat {
		t.Fatalf("broadcast on lane %s, want chat", frame.Lane)
	}
	var msg protocol.ChatMessage
	if err := json.Unmarshal(frame.Payload, &msg); err != nil {
		t.Fatalf("decoding chat payload: %v", err)
	}
	return msg
}

func newTestGateway(bc Broadcaster, now *time.Time) *Gateway {
	g := NewGateway(DefaultConfig(), bc)
	g.now = func() time.Time { return *now }
	return g
}

func TestSubmitStampsServerTimestamp(t *testing.T) {
	bc := &captureBroadcaster{}
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	g := newTestGateway(bc, &now)

	payload := `{"id":"m1","user":"ada","text":"hello","serverTimestamp":"1999-01-01T00:00:00Z"}`
	if err := g.Submit("alpha", "conn-1", []byte(payload)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	msg := bc.last(t)
	if msg.ServerTimestamp != now.Format(time.RFC3339Nano) {
		t.Errorf("serverTimestamp = %q, client value was not overwritten", msg.ServerTimestamp)
	}
	if msg.ID != "m1" || msg.User != "ada" || msg.Text != "hello" {
		t.Errorf("broadcast fields mangled: %+v", msg)
	}
}

func TestSubmitValidationOrder(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		reason  string
	}{
		{"not json", `{{{`, "must be a JSON object"},
		{"json array", `[1,2,3]`, "must be a JSON object"},
		{"null", `null`, "must be a JSON object"},
		{"missing id", `{"user":"ada","text":"hi"}`, `missing required field "id"`},
		{"missing user", `{"id":"m1","text":"hi"}`, `missing required field "user"`},
		{"missing text", `{"id":"m1","user":"ada"}`, `missing required field "text"`},
		{"numeric text", `{"id":"m1","user":"ada","text":42}`, `field "text" must be a string`},
		{"object user", `{"id":"m1","user":{"a":1},"text":"hi"}`, `field "user" must be a string`},
		{"oversize text", `{"id":"m1","user":"ada","text":"` + strings.Repeat("x", 1001) + `"}`, "text exceeds 1000"},
		{"oversize user", `{"id":"m1","user":"` + strings.Repeat("u", 51) + `","text":"hi"}`, "user exceeds 50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc := &captureBroadcaster{}
			now := time.Now()
			g := newTestGateway(bc, &now)

			err := g.Submit("alpha", "conn-1", []byte(tt.payload))
			var rej *RejectError
			if !errors.As(err, &rej) {
				t.Fatalf("Submit = %v, want RejectError", err)
			}
			if !strings.Contains(rej.Reason, tt.reason) {
				t.Errorf("reason = %q, want substring %q", rej.Reason, tt.reason)
			}
			if bc.count() != 0 {
				t.Error("rejected message was broadcast")
			}
		})
	}
}

func TestRejectedSubmissionsDoNotConsumeWindow(t *testing.T) {
	bc := &captureBroadcaster{}
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	g := newTestGateway(bc, &now)

	// A burst of garbage must not count against the sender's budget.
	for i := 0; i < 100; i++ {
		if err := g.Submit("alpha", "conn-1", []byte(`{"bad":true}`)); err == nil {
			t.Fatal("malformed payload accepted")
		}
	}
	for i := 0; i < DefaultMaxMessages; i++ {
		if err := g.Submit("alpha", "conn-1", []byte(`{"id":"m","user":"ada","text":"ok"}`)); err != nil {
			t.Fatalf("valid message %d refused after malformed burst: %v", i, err)
		}
	}
}

func TestRateLimitSlidingWindow(t *testing.T) {
	bc := &captureBroadcaster{}
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	g := newTestGateway(bc, &now)
	valid := []byte(`{"id":"m","user":"ada","text":"ok"}`)

	for i := 0; i < DefaultMaxMessages; i++ {
		if err := g.Submit("alpha", "conn-1", valid); err != nil {
			t.Fatalf("message %d refused under the limit: %v", i, err)
		}
	}

	// The 31st in the same window is refused, and keeps being refused
	// until the window actually slides past the burst.
	var rej *RejectError
	if err := g.Submit("alpha", "conn-1", valid); !errors.As(err, &rej) {
		t.Fatalf("over-limit Submit = %v, want RejectError", err)
	}
	if !strings.Contains(rej.Reason, "rate limit") {
		t.Errorf("reason = %q", rej.Reason)
	}

	now = now.Add(59 * time.Second)
	if err := g.Submit("alpha", "conn-1", valid); err == nil {
		t.Error("accepted before the window slid past the burst")
	}

	now = now.Add(2 * time.Second) // 61s after the burst
	if err := g.Submit("alpha", "conn-1", valid); err != nil {
		t.Errorf("refused after the window expired: %v", err)
	}
}

func TestRateLimitIsPerConnection(t *testing.T) {
	bc := &captureBroadcaster{}
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	g := newTestGateway(bc, &now)
	valid := []byte(`{"id":"m","user":"ada","text":"ok"}`)

	for i := 0; i < DefaultMaxMessages; i++ {
		if err := g.Submit("alpha", "conn-1", valid); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.Submit("alpha", "conn-1", valid); err == nil {
		t.Fatal("conn-1 not limited")
	}
	if err := g.Submit("alpha", "conn-2", valid); err != nil {
		t.Errorf("conn-2 throttled by conn-1's window: %v", err)
	}
}

func TestDropDestroysWindowState(t *testing.T) {
	bc := &captureBroadcaster{}
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	g := newTestGateway(bc, &now)
	valid := []byte(`{"id":"m","user":"ada","text":"ok"}`)

	if err := g.Submit("alpha", "conn-1", valid); err != nil {
		t.Fatal(err)
	}
	if g.Tracked() != 1 {
		t.Fatalf("Tracked = %d, want 1", g.Tracked())
	}
	g.Drop("conn-1")
	if g.Tracked() != 0 {
		t.Errorf("Tracked = %d after Drop, want 0", g.Tracked())
	}
}

func TestAcceptedFieldsAreTruncated(t *testing.T) {
	bc := &captureBroadcaster{}
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	g := newTestGateway(bc, &now)

	longID := strings.Repeat("i", 200)
	payload := `{"id":"` + longID + `","user":"ada","text":"hi"}`
	if err := g.Submit("alpha", "conn-1", []byte(payload)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if msg := bc.last(t); len(msg.ID) != DefaultMaxIDLen {
		t.Errorf("id length = %d, want %d", len(msg.ID), DefaultMaxIDLen)
	}
}

func TestBroadcastFailureSurfaces(t *testing.T) {
	sink := errors.New("room gone")
	bc := &captureBroadcaster{fail: sink}
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	g := newTestGateway(bc, &now)

	err := g.Submit("alpha", "conn-1", []byte(`{"id":"m","user":"ada","text":"ok"}`))
	if !errors.Is(err, sink) {
		t.Fatalf("Submit = %v, want wrapped broadcaster error", err)
	}
	var rej *RejectError
	if errors.As(err, &rej) {
		t.Error("relay failure misclassified as a client rejection")
	}
}
