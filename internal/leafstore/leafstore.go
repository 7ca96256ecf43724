// Package leafstore is the durable journal of stamped leaves.
//
// Every accepted checksum is written here before it enters the in-memory
// tree, so a restarted server can replay the journal and arrive at the same
// size and root. The journal is append-only; Verify re-checks that indices
// are contiguous, every leaf hash matches its checksum and no checksum
// appears twice.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package leafstore
