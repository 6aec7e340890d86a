// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/collabd/collabd/internal/chat"
	"github.com/collabd/collabd/internal/logging"
	"github.com/collabd/collabd/internal/metrics"
	"github.com/collabd/collabd/internal/protocol"
	"github.com/collabd/collabd/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	DefaultSendQueueSize = 256
	DefaultMaxFrameSize  = 1024 * 1024 // 1 MiB
)

// Relay is the room-layer surface a connection drives. *room.Registry
// satisfies it.
type Relay interface {
	Join(roomName string, c room.Client) error
	Leave(roomName, clientID string)
	RelayUpdate(roomName, senderID string, update []byte) error
	SetAwareness(roomName, clientID string, payload json.RawMessage, ttl time.Duration) error
}

// Gateway is the chat surface a connection drives. *chat.Gateway
// satisfies it.
type Gateway interface {
	Submit(roomName, connID string, payload []byte) error
	Drop(connID string)
}

// Config bounds one connection's resource usage.
type Config struct {
	SendQueueSize int
	MaxFrameSize  int64
}

// DefaultConfig returns the per-connection limits used in production.
func DefaultConfig() Config {
	return Config{SendQueueSize: DefaultSendQueueSize, MaxFrameSize: DefaultMaxFrameSize}
}

// Conn is one client connection. It implements room.Client so the room
// layer can push frames and kick it without knowing about websockets.
type Conn struct {
	id      string
	conn    *websocket.Conn
	relay   Relay
	gateway Gateway
	cfg     Config

	send      chan []byte
	closeOnce sync.Once

	mu       sync.Mutex
	roomName string
	joined   bool
}

// NewConn wraps an upgraded websocket connection. The caller must call
// Start to begin the pumps.
func NewConn(wsConn *websocket.Conn, relay Relay, gateway Gateway, cfg Config) *Conn {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	return &Conn{
		id:      uuid.NewString(),
		conn:    wsConn,
		relay:   relay,
		gateway: gateway,
		cfg:     cfg,
		send:    make(chan []byte, cfg.SendQueueSize),
	}
}

// ID returns the server-assigned connection id, which is also the
// awareness key and the chat rate-limiter key.
func (c *Conn) ID() string { return c.id }

// Enqueue queues one outbound frame without blocking. False means the
// queue is full and the caller should give up on this connection.
func (c *Conn) Enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		metrics.FramesDropped.WithLabelValues("outbound", "queue_full").Inc()
		return false
	}
}

// Kick force-closes the connection. Teardown then runs through the
// read pump's deferred cleanup as for any other disconnect.
func (c *Conn) Kick(reason string) {
	logging.Warn().Str("conn_id", c.id).Str("reason", reason).Msg("Kicking client")
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.conn.Close()
	})
}

// Start begins the read and write pumps.
func (c *Conn) Start() {
	metrics.ClientsConnected.Inc()
	go c.writePump()
	go c.readPump()
}

// teardown releases everything this connection holds: its room
// membership (broadcasting the awareness removal), its chat limiter
// window, and the socket itself.
func (c *Conn) teardown() {
	c.mu.Lock()
	joined, roomName := c.joined, c.roomName
	c.joined = false
	c.mu.Unlock()

	if joined {
		c.relay.Leave(roomName, c.id)
	}
	c.gateway.Drop(c.id)
	c.closeOnce.Do(func() { _ = c.conn.Close() })
	metrics.ClientsConnected.Dec()
	logging.Debug().Str("conn_id", c.id).Str("room", roomName).Msg("Connection closed")
}

func (c *Conn) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(c.cfg.MaxFrameSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.ClosePolicyViolation) {
				logging.Warn().Err(err).Str("conn_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound frame. Protocol errors drop the frame and
// keep the connection open; a failure on one lane never affects the
// others.
func (c *Conn) dispatch(data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("unknown", "malformed").Inc()
		logging.Debug().Err(err).Str("conn_id", c.id).Msg("Dropping undecodable frame")
		return
	}

	switch frame.Lane {
	case protocol.LaneSync:
		c.handleSync(frame.Payload)
	case protocol.LaneAwareness:
		c.handleAwareness(frame.Payload)
	case protocol.LaneChat:
		c.handleChat(frame.Payload)
	}
}

func (c *Conn) handleSync(payload []byte) {
	op, body, err := protocol.DecodeSync(payload)
	if err != nil {
		c.drop("sync", "malformed", err)
		return
	}

	switch op {
	case protocol.SyncOpInit:
		init, err := protocol.DecodeSyncInit(body)
		if err != nil {
			c.drop("sync", "malformed", err)
			return
		}
		c.mu.Lock()
		if c.joined {
			c.mu.Unlock()
			c.drop("sync", "already_joined", nil)
			return
		}
		c.mu.Unlock()
		if err := c.relay.Join(init.Room, c); err != nil {
			c.drop("sync", "join_failed", err)
			return
		}
		c.mu.Lock()
		c.joined = true
		c.roomName = init.Room
		c.mu.Unlock()
		logging.Info().Str("conn_id", c.id).Str("room", init.Room).Msg("Client joined room")

	case protocol.SyncOpUpdate:
		roomName, ok := c.currentRoom()
		if !ok {
			c.drop("sync", "not_joined", nil)
			return
		}
		if err := c.relay.RelayUpdate(roomName, c.id, body); err != nil {
			c.drop("sync", "rejected", err)
		}
	}
}

func (c *Conn) handleAwareness(payload []byte) {
	roomName, ok := c.currentRoom()
	if !ok {
		c.drop("awareness", "not_joined", nil)
		return
	}
	upd, err := protocol.DecodeAwareness(payload)
	if err != nil {
		c.drop("awareness", "malformed", err)
		return
	}
	// The awareness key is the server-side connection id so that the
	// expiry and disconnect paths agree on it. Client-supplied ids are
	// ignored.
	ttl := time.Duration(upd.TTLMs) * time.Millisecond
	if err := c.relay.SetAwareness(roomName, c.id, upd.Payload, ttl); err != nil {
		c.drop("awareness", "rejected", err)
	}
}

func (c *Conn) handleChat(payload []byte) {
	roomName, ok := c.currentRoom()
	if !ok {
		c.drop("chat", "not_joined", nil)
		return
	}
	err := c.gateway.Submit(roomName, c.id, payload)
	if err == nil {
		return
	}
	var rej *chat.RejectError
	if errors.As(err, &rej) {
		// Rejections go back to the offending sender only.
		if frame, encErr := protocol.EncodeChatError(rej.Reason); encErr == nil {
			c.Enqueue(frame)
		}
		return
	}
	c.drop("chat", "relay_failed", err)
}

func (c *Conn) currentRoom() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomName, c.joined
}

func (c *Conn) drop(lane, reason string, err error) {
	metrics.FramesDropped.WithLabelValues(lane, reason).Inc()
	logging.Debug().Err(err).Str("conn_id", c.id).Str("lane", lane).Str("reason", reason).Msg("Dropping frame")
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeOnce.Do(func() { _ = c.conn.Close() })
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
