// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package awareness holds the ephemeral per-room presence state: cursor
// positions, display names, colors. Entries carry a TTL; a periodic sweep
// removes entries whose owner went silent, so peers learn about a
// disappearance even when the connection died without a clean close.
//
// A Table is not safe for concurrent use on its own. Each room owns one
// and serializes access under the room's exclusive section, which keeps
// awareness mutations atomic with respect to joins, leaves, and document
// updates.
package awareness

import (
	"time"

	"github.com/goccy/go-json"
)

// Entry is one client's presence payload and its expiry deadline.
type Entry struct {
	Payload   json.RawMessage
	ExpiresAt time.Time
}

// Table maps client ids to live awareness entries within one room.
type Table struct {
	entries map[string]Entry
}

// NewTable creates an empty awareness table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Set upserts a client's entry and resets its expiry to now+ttl.
func (t *Table) Set(clientID string, payload json.RawMessage, ttl time.Duration, now time.Time) {
	t.entries[clientID] = Entry{Payload: payload, ExpiresAt: now.Add(ttl)}
}

// Remove deletes a client's entry. Reports whether one existed, so callers
// know whether a removal notice is owed to the room.
func (t *Table) Remove(clientID string) bool {
	if _, ok := t.entries[clientID]; !ok {
		return false
	}
	delete(t.entries, clientID)
	return true
}

// Expire removes every entry whose TTL has elapsed at now and returns the
// expired client ids. One removal notice per id must be broadcast.
func (t *Table) Expire(now time.Time) []string {
	var expired []string
	for id, entry := range t.entries {
		if !entry.ExpiresAt.After(now) {
			expired = append(expired, id)
			delete(t.entries, id)
		}
	}
	return expired
}

// Snapshot returns the live entries at now, keyed by client id. Entries
// already past their TTL are excluded even if the sweep has not run yet.
func (t *Table) Snapshot(now time.Time) map[string]json.RawMessage {
	snap := make(map[string]json.RawMessage, len(t.entries))
	for id, entry := range t.entries {
		if entry.ExpiresAt.After(now) {
			snap[id] = entry.Payload
		}
	}
	return snap
}

// Len returns the number of entries, expired or not.
func (t *Table) Len() int {
	return len(t.entries)
}
