// Package id supplies the identifiers and timestamps the client mints
// locally when the reporting service has not yet echoed its own back.
//
// Two generators live here. Generator produces 128-bit, lexicographically
// sortable request identifiers (16 bytes big-endian:
// [8 bytes ms_timestamp][8 bytes sequence]) used to correlate transport
// calls in logs; byte-wise comparison preserves chronological order, and
// IDs within the same millisecond remain strictly increasing by sequence.
// UUIDSource mints the RFC 4122 UUIDs assigned to launches and items when
// the client runs with locally generated identifiers.
//
// # Monotonicity
//
// The Generator ensures per-process monotonicity:
//   - If the system clock regresses, it pins to the last seen millisecond and
//     increments the sequence to avoid going backwards.
//   - If the sequence would overflow within a millisecond, it waits for the
//     next millisecond before emitting the next ID.
//
// Usage
//
//	g := id.NewGenerator()
//	newID := g.Next()
//	s := newID.String()  // hex string
package id
