// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package chat validates, rate-limits, and broadcasts chat messages.
//
// Inbound chat payloads come straight off the wire from untrusted
// clients, so the gateway sanitizes them field by field instead of
// unmarshaling into a struct: a struct decode would silently coerce or
// zero out mistyped fields, while the gateway must reject them with a
// specific reason. Validation short-circuits before the rate limiter is
// consulted, so malformed traffic never consumes window capacity.
package chat
