// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package chat

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/collabd/collabd/internal/metrics"
	"github.com/collabd/collabd/internal/protocol"
)

// Default limits. Window and capacity follow the classic "30 messages
// per rolling minute" chat throttle; the length caps match the limits
// enforced on the editor side.
const (
	DefaultWindow      = time.Minute
	DefaultMaxMessages = 30
	DefaultMaxTextLen  = 1000
	DefaultMaxUserLen  = 50
	DefaultMaxIDLen    = 64
)

// Reject kinds used as the metrics label for refused submissions.
const (
	rejectShape = "shape"
	rejectType  = "type"
	rejectSize  = "size"
	rejectRate  = "rate"
)

// RejectError describes a refused chat submission. Reason is safe to
// send verbatim back to the offending sender.
type RejectError struct {
	Reason string
	kind   string
}

func (e *RejectError) Error() string { return "chat: rejected: " + e.Reason }

func reject(kind, format string, args ...any) *RejectError {
	return &RejectError{Reason: fmt.Sprintf(format, args...), kind: kind}
}

// Broadcaster fans a finished chat frame out to everyone in the room
// except the sender. *room.Registry satisfies it.
type Broadcaster interface {
	BroadcastChat(roomName, senderID string, frame []byte) error
}

// Config bounds the per-connection sliding window and the field caps.
type Config struct {
	Window      time.Duration
	MaxMessages int
	MaxTextLen  int
	MaxUserLen  int
	MaxIDLen    int
}

// DefaultConfig returns the gateway limits used in production.
func DefaultConfig() Config {
	return Config{
		Window:      DefaultWindow,
		MaxMessages: DefaultMaxMessages,
		MaxTextLen:  DefaultMaxTextLen,
		MaxUserLen:  DefaultMaxUserLen,
		MaxIDLen:    DefaultMaxIDLen,
	}
}

// Gateway enforces per-connection chat limits and hands accepted
// messages to the Broadcaster. All methods are safe for concurrent use.
type Gateway struct {
	cfg Config
	bc  Broadcaster
	now func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time // connection id -> accepted-at timestamps
}

// NewGateway builds a Gateway. Zero config fields fall back to the
// package defaults.
func NewGateway(cfg Config, bc Broadcaster) *Gateway {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = def.MaxMessages
	}
	if cfg.MaxTextLen <= 0 {
		cfg.MaxTextLen = def.MaxTextLen
	}
	if cfg.MaxUserLen <= 0 {
		cfg.MaxUserLen = def.MaxUserLen
	}
	if cfg.MaxIDLen <= 0 {
		cfg.MaxIDLen = def.MaxIDLen
	}
	return &Gateway{
		cfg:     cfg,
		bc:      bc,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

// Submit validates and rate-limits one inbound chat payload from the
// given connection, then broadcasts it to the rest of the room. A
// *RejectError means the payload was refused and the Reason should go
// back to the sender only; any other error is a relay failure.
func (g *Gateway) Submit(roomName, connID string, payload []byte) error {
	msg, rerr := g.sanitize(payload)
	if rerr == nil {
		rerr = g.admit(connID)
	}
	if rerr != nil {
		metrics.ChatMessages.WithLabelValues(rerr.kind).Inc()
		return rerr
	}

	msg.Stamp(g.now())
	frame, err := protocol.EncodeChat(msg)
	if err != nil {
		return fmt.Errorf("encoding chat broadcast: %w", err)
	}
	if err := g.bc.BroadcastChat(roomName, connID, frame); err != nil {
		return fmt.Errorf("broadcasting chat: %w", err)
	}
	metrics.ChatMessages.WithLabelValues("accepted").Inc()
	return nil
}

// Drop discards the rate-limiter state for a closed connection.
func (g *Gateway) Drop(connID string) {
	g.mu.Lock()
	delete(g.windows, connID)
	g.mu.Unlock()
}

// Tracked reports how many connections currently hold window state.
func (g *Gateway) Tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.windows)
}

// sanitize checks the payload field by field. Checks short-circuit in a
// fixed order so each failure mode has a stable reason: object shape,
// required fields, field types, then length caps.
func (g *Gateway) sanitize(payload []byte) (protocol.ChatMessage, *RejectError) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil || raw == nil {
		return protocol.ChatMessage{}, reject(rejectShape, "message must be a JSON object")
	}
	for _, field := range []string{"id", "user", "text"} {
		if _, ok := raw[field]; !ok {
			return protocol.ChatMessage{}, reject(rejectShape, "missing required field %q", field)
		}
	}
	var msg protocol.ChatMessage
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"id", &msg.ID},
		{"user", &msg.User},
		{"text", &msg.Text},
	} {
		s, ok := raw[f.name].(string)
		if !ok {
			return protocol.ChatMessage{}, reject(rejectType, "field %q must be a string", f.name)
		}
		*f.dst = s
	}
	if utf8.RuneCountInString(msg.Text) > g.cfg.MaxTextLen {
		return protocol.ChatMessage{}, reject(rejectSize, "text exceeds %d characters", g.cfg.MaxTextLen)
	}
	if utf8.RuneCountInString(msg.User) > g.cfg.MaxUserLen {
		return protocol.ChatMessage{}, reject(rejectSize, "user exceeds %d characters", g.cfg.MaxUserLen)
	}

	msg.ID = truncate(msg.ID, g.cfg.MaxIDLen)
	msg.User = truncate(msg.User, g.cfg.MaxUserLen)
	msg.Text = truncate(msg.Text, g.cfg.MaxTextLen)
	return msg, nil
}

// admit applies the sliding window for one connection. The window is a
// timestamp list pruned on every submission; an over-limit submission
// leaves the stored window untouched.
func (g *Gateway) admit(connID string) *RejectError {
	now := g.now()
	cutoff := now.Add(-g.cfg.Window)

	g.mu.Lock()
	defer g.mu.Unlock()

	window := g.windows[connID]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= g.cfg.MaxMessages {
		g.windows[connID] = kept
		return reject(rejectRate, "rate limit exceeded: max %d messages per %s", g.cfg.MaxMessages, g.cfg.Window)
	}
	g.windows[connID] = append(kept, now)
	return nil
}

func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}
