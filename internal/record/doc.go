// Package record defines the value types shared by the store, the sync engine
// and the remote client.
//
// The package imports nothing internal. Records are opaque to everything but
// their id: payloads travel as canonical JSON so that a queue entry written
// twice with the same content is byte-for-byte identical.
//
// Key constraints:
//   - Every record has a non-empty string id (Record.RecordID)
//   - Queue entries are never mutated in place once written
//   - Queue entry ids sort oldest-first for the same logical record
package record
