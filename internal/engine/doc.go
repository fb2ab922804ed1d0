// Package engine implements the local-first sync engine.
//
// The engine is the single point through which an application reads and
// mutates records. Every write lands in the Durable Store first; mutations
// that cannot be delivered right away are recorded in the mutation queue in
// the same transaction, so a write that returned is never lost.
//
// ARCHITECTURE:
//
// Write path:
// 1. Write/Remove persist the change to the records collection.
// 2. Offline (or under the queue_always policy) a queue entry is added in
// the same transaction.
// 3. Online under push_online the change is sent to the remote immediately;
// if that fails it is queued instead. A record with queued entries is always
// queued behind them so the remote sees its mutations in order.
//
// Flush protocol (Flush):
// 1. Read every pending entry, oldest first.
// 2. Send all update payloads as one batch through the sync function.
// 3. Send delete entries through the delete function, or drop them with a
// warning when none is configured.
// 4. Remove exactly the entries read in step 1. Entries added meanwhile stay.
//
// On failure the queue rows are left untouched. Attempt counts are kept
// beside the queue; entries that exhaust RetryPolicy.MaxRetries are parked
// until RetryEntry or DiscardEntry resolves them.
//
// Run drives automatic flushes: on every offline-to-online transition with
// pending work, and after the backoff delay that follows a failure. Only one
// flush runs at a time; a concurrent Flush call returns immediately with
// FlushResult.Skipped set.
package engine
