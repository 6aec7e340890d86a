// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package crdt defines the opaque document abstraction the sync relay is
// built against, plus a reference implementation used by the server and in
// tests.
//
// The relay never interprets update contents. It only needs three
// operations from a document: apply an update, encode everything known so
// far as one update, and encode a compact state summary. Any convergent
// replicated document type (a Yjs-style sequence CRDT, an OR-set, ...) can
// sit behind the Document interface; the relay's correctness does not
// depend on the merge algorithm.
package crdt
