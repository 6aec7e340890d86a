// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package ws owns the websocket side of a client connection: one read
// pump demultiplexing inbound frames onto the sync, awareness, and chat
// lanes, and one write pump draining a bounded outbound queue.
//
// Malformed frames are dropped and logged without closing the
// connection. The outbound queue is the backpressure boundary: when it
// fills, the room layer kicks the connection instead of stalling the
// broadcast for everyone else.
package ws
