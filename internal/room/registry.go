// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/collabd/collabd/internal/crdt"
	"github.com/collabd/collabd/internal/logging"
	"github.com/collabd/collabd/internal/metrics"
	"github.com/collabd/collabd/internal/protocol"
)

// Registry errors.
var (
	ErrRoomNotFound = errors.New("room: not found")
	ErrNotMember    = errors.New("room: client is not a member")
)

// Config holds registry tuning.
type Config struct {
	// DocFactory creates the empty document replica for a new room.
	DocFactory crdt.Factory

	// AwarenessDefaultTTL applies when an upsert carries no ttl.
	// Default: 30s.
	AwarenessDefaultTTL time.Duration

	// AwarenessMaxTTL clamps client-supplied TTLs. Default: 5m.
	AwarenessMaxTTL time.Duration
}

// DefaultConfig returns production defaults with the reference document
// implementation.
func DefaultConfig() Config {
	return Config{
		DocFactory:          crdt.NewLogDocumentFactory(),
		AwarenessDefaultTTL: 30 * time.Second,
		AwarenessMaxTTL:     5 * time.Minute,
	}
}

// Registry is the process-wide room table. Rooms are created on first
// join and destroyed when the last client leaves; a room with zero
// clients holds no retrievable state.
type Registry struct {
	cfg Config

	mu    sync.Mutex
	rooms map[string]*Room

	// now is swappable for tests.
	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.DocFactory == nil {
		cfg.DocFactory = crdt.NewLogDocumentFactory()
	}
	if cfg.AwarenessDefaultTTL <= 0 {
		cfg.AwarenessDefaultTTL = 30 * time.Second
	}
	if cfg.AwarenessMaxTTL <= 0 {
		cfg.AwarenessMaxTTL = 5 * time.Minute
	}
	return &Registry{
		cfg:   cfg,
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
}

// Join adds a client to the named room, creating the room on first join.
// The joining client is immediately sent the full document state followed
// by one awareness frame per live peer entry, so a late joiner
// reconstructs the session without depending on any original peer still
// being connected.
func (g *Registry) Join(roomName string, c Client) error {
	var (
		fullState []byte
		peers     map[string]json.RawMessage
		members   int
	)
	for {
		g.mu.Lock()
		room, ok := g.rooms[roomName]
		if !ok {
			room = newRoom(roomName, g.cfg.DocFactory())
			g.rooms[roomName] = room
			metrics.RoomsActive.Set(float64(len(g.rooms)))
			logging.Info().Str("room", roomName).Msg("room created")
		}
		g.mu.Unlock()

		now := g.now()

		room.mu.Lock()
		if room.closed {
			// The last member's Leave won the race and removed this
			// room from the registry. Resolve the name again.
			room.mu.Unlock()
			continue
		}
		room.clients[c.ID()] = c
		room.clock++
		fullState = room.doc.EncodeStateAsUpdate()
		peers = room.awareness.Snapshot(now)
		members = len(room.clients)
		room.mu.Unlock()
		break
	}

	logging.Info().
		Str("room", roomName).
		Str("client", c.ID()).
		Int("members", members).
		Msg("client joined")

	frames := make([][]byte, 0, 1+len(peers))
	frames = append(frames, protocol.EncodeSyncUpdate(fullState))
	for id, payload := range peers {
		frame, err := protocol.EncodeAwareness(protocol.AwarenessUpdate{ClientID: id, Payload: payload})
		if err != nil {
			logging.Err(err).Str("room", roomName).Msg("encoding awareness snapshot entry")
			continue
		}
		frames = append(frames, frame)
	}
	for _, frame := range frames {
		if !c.Enqueue(frame) {
			metrics.SlowConsumerDisconnects.Inc()
			c.Kick("outbound backlog exceeded during join")
			break
		}
	}
	return nil
}

// Leave removes a client from the named room. The document is not
// mutated; if the room becomes empty it is discarded entirely. An
// awareness removal notice is broadcast immediately on explicit
// disconnect (the sweep covers unclean ones).
func (g *Registry) Leave(roomName, clientID string) {
	g.mu.Lock()
	r, ok := g.rooms[roomName]
	if !ok {
		g.mu.Unlock()
		return
	}

	r.mu.Lock()
	if _, member := r.clients[clientID]; !member {
		r.mu.Unlock()
		g.mu.Unlock()
		return
	}
	delete(r.clients, clientID)
	hadAwareness := r.awareness.Remove(clientID)
	r.clock++
	empty := len(r.clients) == 0
	if empty {
		r.closed = true
	}
	recipients := r.peersLocked(clientID)
	r.mu.Unlock()

	if empty {
		delete(g.rooms, roomName)
		metrics.RoomsActive.Set(float64(len(g.rooms)))
		logging.Info().Str("room", roomName).Msg("room destroyed (last client left)")
	}
	g.mu.Unlock()

	if hadAwareness && !empty {
		if frame, err := protocol.EncodeAwarenessRemoval(clientID); err == nil {
			r.deliver(recipients, frame)
		}
	}
	logging.Info().Str("room", roomName).Str("client", clientID).Msg("client left")
}

// RelayUpdate applies an update to the room's authoritative replica and
// broadcasts the raw bytes to every other member. A malformed update is
// rejected before anything is forwarded; the caller logs and drops it.
// Updates from one sender reach all peers in submission order because each
// connection's read loop calls this serially.
func (g *Registry) RelayUpdate(roomName, senderID string, update []byte) error {
	r, err := g.lookup(roomName)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, member := r.clients[senderID]; !member {
		r.mu.Unlock()
		return ErrNotMember
	}
	if err := r.doc.ApplyUpdate(update); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("applying update from %s: %w", senderID, err)
	}
	r.clock++
	recipients := r.peersLocked(senderID)
	r.mu.Unlock()

	metrics.SyncUpdatesRelayed.Inc()
	metrics.SyncUpdateBytes.Observe(float64(len(update)))

	r.deliver(recipients, protocol.EncodeSyncUpdate(update))
	return nil
}

// SetAwareness upserts a client's presence entry and broadcasts only the
// changed entry to the rest of the room. Each upsert resets the entry's
// expiry to now+ttl; a non-positive or missing ttl uses the default, and
// client TTLs are clamped to the configured maximum.
func (g *Registry) SetAwareness(roomName, clientID string, payload json.RawMessage, ttl time.Duration) error {
	r, err := g.lookup(roomName)
	if err != nil {
		return err
	}

	if ttl <= 0 {
		ttl = g.cfg.AwarenessDefaultTTL
	}
	if ttl > g.cfg.AwarenessMaxTTL {
		ttl = g.cfg.AwarenessMaxTTL
	}

	r.mu.Lock()
	if _, member := r.clients[clientID]; !member {
		r.mu.Unlock()
		return ErrNotMember
	}
	r.awareness.Set(clientID, payload, ttl, g.now())
	r.clock++
	recipients := r.peersLocked(clientID)
	r.mu.Unlock()

	metrics.AwarenessUpdates.Inc()

	frame, err := protocol.EncodeAwareness(protocol.AwarenessUpdate{ClientID: clientID, Payload: payload})
	if err != nil {
		return err
	}
	r.deliver(recipients, frame)
	return nil
}

// AwarenessSnapshot returns the live awareness entries for a room.
func (g *Registry) AwarenessSnapshot(roomName string) (map[string]json.RawMessage, error) {
	r, err := g.lookup(roomName)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.awareness.Snapshot(g.now()), nil
}

// BroadcastChat delivers an already-validated chat frame to every member
// of the room except the sender.
func (g *Registry) BroadcastChat(roomName, senderID string, frame []byte) error {
	r, err := g.lookup(roomName)
	if err != nil {
		return err
	}
	r.mu.Lock()
	recipients := r.peersLocked(senderID)
	r.mu.Unlock()

	r.deliver(recipients, frame)
	return nil
}

// Sweep removes expired awareness entries in every room and broadcasts
// one removal notice per expired client id. Returns the number of entries
// removed. Called periodically by the sweeper service; this is the
// durable fallback that catches silent disconnects.
func (g *Registry) Sweep(now time.Time) int {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	total := 0
	for _, r := range rooms {
		r.mu.Lock()
		expired := r.awareness.Expire(now)
		recipients := r.peersLocked("")
		r.mu.Unlock()

		for _, id := range expired {
			frame, err := protocol.EncodeAwarenessRemoval(id)
			if err != nil {
				continue
			}
			r.deliver(recipients, frame)
			logging.Debug().Str("room", r.name).Str("client", id).Msg("awareness entry expired")
		}
		total += len(expired)
	}
	if total > 0 {
		metrics.AwarenessExpiries.Add(float64(total))
	}
	return total
}

// ClientCount reports the number of members in a room; zero when the room
// does not exist.
func (g *Registry) ClientCount(roomName string) int {
	g.mu.Lock()
	r, ok := g.rooms[roomName]
	g.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// RoomCount reports the number of live rooms.
func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// SetClock replaces the registry time source. Test hook.
func (g *Registry) SetClock(now func() time.Time) {
	g.now = now
}

func (g *Registry) lookup(roomName string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRoomNotFound, roomName)
	}
	return r, nil
}
