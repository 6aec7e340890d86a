// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package room

// Client is the outbound half of a connection as a room sees it.
// Implemented by the websocket connection type; fakes implement it in
// tests.
type Client interface {
	// ID returns the server-assigned opaque connection id.
	ID() string

	// Enqueue offers a frame to the client's bounded send queue without
	// blocking. It reports false when the backlog is full; the room
	// responds by dropping the client, not the message for everyone else.
	Enqueue(frame []byte) bool

	// Kick force-closes the connection. Called on backlog overflow.
	// Must be safe to call from any goroutine and more than once.
	Kick(reason string)
}
