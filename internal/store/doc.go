// Package store provides the SQLite-backed Durable Store for the sync engine.
//
// The store holds two collections:
//   - records: application records keyed by id, indexed by owner and
//     modified_at for range queries
//   - sync_queue: pending mutations keyed by a synthetic, time-ordered id
//
// Delivery bookkeeping (attempt counts, parked entries) lives in a separate
// delivery_attempts table so that queue entries are never rewritten.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=FULL: a write that returned survives power loss
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - one open connection: the engine is the single writer
//
// A process holds the database through an advisory file lock next to the
// database file; a second Open of the same path fails with
// ErrStorageUnavailable until the first handle is closed.
//
// Absence is never an error at this layer's public surface: Get* returns
// ErrNotFound, which callers treat as "not found", and deletes of missing ids
// succeed.
package store
