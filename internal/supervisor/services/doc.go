// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package services adapts the server's long-running components to the
// suture.Service contract: a blocking Serve(ctx) that returns when the
// context is canceled, and a String() used in supervisor logs.
package services
