// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package supervisor builds the suture tree that runs the server. Two
// child supervisors isolate failures: the messaging layer holds the
// awareness sweeper, the api layer holds the HTTP server. A crash in
// one layer restarts only that layer's services.
package supervisor
