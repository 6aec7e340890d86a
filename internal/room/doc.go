// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package room implements the room registry and sync relay.
//
// A room owns the authoritative server-side replica of its document, the
// set of connected clients, and the awareness table. The server is a full
// peer, not a byte switch: every relayed update is applied to the room's
// own replica first, which is what makes the full-state catch-up sent to a
// late joiner correct even after every original author has disconnected.
//
// Locking discipline: the registry mutex guards only the room map and is
// never held across a broadcast. Each room's mutex serializes document,
// membership, and awareness mutations; it is released before any frame is
// enqueued, so a slow socket can never stall another room or the registry.
// When both are taken, the registry mutex is taken first.
package room
