// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package crdt

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
)

// LogDocument is the reference Document implementation: a grow-only set of
// opaque operations, content-addressed by SHA-256.
//
// An encoded update is a pack of one or more operations:
//
//	uvarint opCount | (uvarint opLen | opLen bytes)*
//
// Applying a pack inserts every operation not already present; duplicates
// are ignored, which makes application idempotent and order-independent.
// EncodeStateAsUpdate emits all operations as one pack in canonical
// (hash-sorted) order, so two replicas with the same operation set encode
// byte-identical state.
type LogDocument struct {
	ops map[[sha256.Size]byte][]byte
}

// NewLogDocument creates an empty LogDocument.
func NewLogDocument() *LogDocument {
	return &LogDocument{ops: make(map[[sha256.Size]byte][]byte)}
}

// NewLogDocumentFactory returns a Factory producing empty LogDocuments.
func NewLogDocumentFactory() Factory {
	return func() Document { return NewLogDocument() }
}

// EncodeUpdate packs raw operation payloads into update wire format.
// Clients (and tests) use this to build updates the relay can carry.
func EncodeUpdate(ops ...[]byte) []byte {
	var buf []byte
	buf = binary.AppendUvarint(buf, uint64(len(ops)))
	for _, op := range ops {
		buf = binary.AppendUvarint(buf, uint64(len(op)))
		buf = append(buf, op...)
	}
	return buf
}

// decodeUpdate splits a pack into its operation payloads.
func decodeUpdate(update []byte) ([][]byte, error) {
	count, n := binary.Uvarint(update)
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad op count", ErrMalformedUpdate)
	}
	rest := update[n:]

	// Cap the preallocation; count is attacker-controlled wire input.
	capHint := count
	if capHint > 64 {
		capHint = 64
	}
	ops := make([][]byte, 0, capHint)
	for i := uint64(0); i < count; i++ {
		opLen, n := binary.Uvarint(rest)
		if n <= 0 || uint64(len(rest[n:])) < opLen {
			return nil, fmt.Errorf("%w: truncated op %d", ErrMalformedUpdate, i)
		}
		ops = append(ops, rest[n:n+int(opLen)])
		rest = rest[n+int(opLen):]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedUpdate, len(rest))
	}
	return ops, nil
}

// ApplyUpdate implements Document. The replica is unchanged on error.
func (d *LogDocument) ApplyUpdate(update []byte) error {
	if len(update) == 0 {
		return fmt.Errorf("%w: empty", ErrMalformedUpdate)
	}
	ops, err := decodeUpdate(update)
	if err != nil {
		return err
	}
	for _, op := range ops {
		key := sha256.Sum256(op)
		if _, seen := d.ops[key]; seen {
			continue
		}
		stored := make([]byte, len(op))
		copy(stored, op)
		d.ops[key] = stored
	}
	return nil
}

// EncodeStateAsUpdate implements Document.
func (d *LogDocument) EncodeStateAsUpdate() []byte {
	ordered := d.sortedOps()
	return EncodeUpdate(ordered...)
}

// EncodeStateVector implements Document. The vector is the operation count
// followed by a digest over the canonical operation ordering; equal vectors
// mean equivalent replicas.
func (d *LogDocument) EncodeStateVector() []byte {
	h := sha256.New()
	for _, op := range d.sortedOps() {
		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(len(op)))
		h.Write(size[:])
		h.Write(op)
	}

	vector := make([]byte, 8, 8+sha256.Size)
	binary.BigEndian.PutUint64(vector, uint64(len(d.ops)))
	return h.Sum(vector)
}

// Len returns the number of distinct operations applied.
func (d *LogDocument) Len() int {
	return len(d.ops)
}

// sortedOps returns all operations in canonical hash order.
func (d *LogDocument) sortedOps() [][]byte {
	keys := make([][sha256.Size]byte, 0, len(d.ops))
	for key := range d.ops {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})

	ops := make([][]byte, 0, len(keys))
	for _, key := range keys {
		ops = append(ops, d.ops[key])
	}
	return ops
}
