// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package protocol defines the wire format spoken over each client's
// websocket connection.
//
// Every frame is a single leading lane byte followed by the lane payload:
//
//	0x00 sync       op byte + body (init JSON or opaque CRDT update bytes)
//	0x01 awareness  JSON upsert / change / removal
//	0x02 chat       JSON message, or JSON error back to the sender only
//
// Sync bodies are opaque to the server apart from the init handshake; chat
// and awareness payloads are JSON encoded with goccy/go-json.
package protocol
