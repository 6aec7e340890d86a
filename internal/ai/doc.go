// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package ai is the client for the upstream analysis service. It wraps
// chat-completion calls for runtime error analysis, debug step
// suggestions, and code review behind typed failures so HTTP handlers
// can map them to status codes without string matching.
//
// Every call is guarded by a circuit breaker and paced by an outbound
// rate limiter independent of any HTTP-layer caps: the provider quota
// is a shared resource across all rooms.
package ai
