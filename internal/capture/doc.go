// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package capture tracks runtime faults reported by the sandboxed
// execution host and drives AI analysis of them. Storage is bounded on
// both axes: a capped active list of tracked faults and a short rolling
// history of raw fault messages used as cross-error context for
// analysis. A burst of identical faults, such as an error thrown on
// every animation frame, collapses into one tracked entry via a short
// dedup window.
package capture
