// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package api exposes the HTTP surface: health, the websocket entry
// point for room sync, code review and debug analysis endpoints, and
// the Prometheus exposition handler. Routes are mounted on a chi
// router with CORS and per-IP rate limits on the AI-backed endpoints.
package api
