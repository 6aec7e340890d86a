// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package room

import (
	"sync"

	"github.com/collabd/collabd/internal/awareness"
	"github.com/collabd/collabd/internal/crdt"
	"github.com/collabd/collabd/internal/logging"
	"github.com/collabd/collabd/internal/metrics"
)

// Room holds the shared state for one named collaboration session. All
// fields behind mu are mutated atomically with respect to concurrent
// joins, leaves, and updates; cross-room operations never contend.
type Room struct {
	name string

	mu        sync.Mutex
	doc       crdt.Document
	clients   map[string]Client
	awareness *awareness.Table

	// closed is set when the last member leaves and the room is removed
	// from the registry. A joiner that raced the removal re-resolves the
	// name instead of becoming a member of an orphaned room.
	closed bool

	// clock is a logical clock used only for tie-breaking diagnostic
	// ordering in logs; it carries no protocol meaning.
	clock uint64
}

func newRoom(name string, doc crdt.Document) *Room {
	return &Room{
		name:      name,
		doc:       doc,
		clients:   make(map[string]Client),
		awareness: awareness.NewTable(),
	}
}

// Name returns the caller-supplied room name.
func (r *Room) Name() string {
	return r.name
}

// peersLocked returns every client except the one named, in no particular
// order. Callers hold r.mu.
func (r *Room) peersLocked(exceptID string) []Client {
	peers := make([]Client, 0, len(r.clients))
	for id, c := range r.clients {
		if id != exceptID {
			peers = append(peers, c)
		}
	}
	return peers
}

// deliver enqueues a frame to each recipient, disconnecting any recipient
// whose backlog is full. Called without holding any lock; kicked clients
// are detached from the room through the normal leave path triggered by
// their connection teardown.
func (r *Room) deliver(recipients []Client, frame []byte) {
	for _, c := range recipients {
		if c.Enqueue(frame) {
			continue
		}
		metrics.SlowConsumerDisconnects.Inc()
		logging.Warn().
			Str("room", r.name).
			Str("client", c.ID()).
			Msg("outbound backlog full, dropping slow consumer")
		c.Kick("outbound backlog exceeded")
	}
}
