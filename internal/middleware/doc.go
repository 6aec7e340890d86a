// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package middleware holds the chi middleware stack: request-ID
// propagation and Prometheus request instrumentation.
package middleware
