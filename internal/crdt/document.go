// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package crdt

import "errors"

// ErrMalformedUpdate is returned when an update cannot be decoded.
// The relay drops such updates without forwarding them.
var ErrMalformedUpdate = errors.New("crdt: malformed update")

// Document is an opaque convergent document replica.
//
// Implementations must be commutative with respect to update application:
// two replicas that have applied the same set of updates, in any order,
// must encode identical state. Implementations are NOT required to be safe
// for concurrent use; the room holding a document serializes access.
type Document interface {
	// ApplyUpdate merges an encoded update into the replica.
	// Returns ErrMalformedUpdate (possibly wrapped) if the bytes do not
	// decode; the replica is unchanged in that case.
	ApplyUpdate(update []byte) error

	// EncodeStateAsUpdate encodes everything known so far as a single
	// update. Applying the result to a fresh replica yields a replica
	// equivalent to this one.
	EncodeStateAsUpdate() []byte

	// EncodeStateVector encodes a compact summary of the replica's state,
	// sufficient to compare two replicas for equivalence.
	EncodeStateVector() []byte
}

// Factory creates an empty document replica. The room registry uses a
// Factory so the relay stays generic over the document type.
type Factory func() Document
