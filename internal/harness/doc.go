// Package harness runs scripted sync scenarios against the real engine.
//
// A scenario drives one Engine through connectivity changes, writes, removes
// and flushes, against an in-memory remote that records every call. The
// harness produces a trace of steps and remote calls, evaluates assertions
// over the trace and the final state, and can compare the trace with a
// golden file.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: offline_edit
//	description: "Edits made offline reach the remote on reconnect"
//	options:
//	  write_policy: push_online
//	  max_retries: 3
//	setup:
//	  online: false
//	  remote:
//	    - { id: n0, title: "Seeded" }
//	flow:
//	  - do: write
//	    record: { id: n1, title: "Draft" }
//	    expect:
//	      outcome: queued
//	      pending: 1
//	  - do: online
//	  - do: flush
//	    expect:
//	      outcome: ok
//	      counts: { sent: 1 }
//	assertions:
//	  - type: trace_count
//	    action: remote.sync
//	    count: 1
//	  - type: final_state
//	    table: remote
//	    where: { id: n1 }
//	    expect: { title: "Draft" }
//
// # Steps
//
//   - online, offline: flip the connectivity signal
//   - write: Engine.Write of record
//   - remove, read: Engine.Remove and Engine.Read of id
//   - flush: a manual Engine.Flush
//   - hydrate: Engine.Hydrate from the remote
//   - remote_fail, remote_recover: make the remote reject or accept calls
//   - retry_parked, discard_parked: resolve the parked entries of record id
//   - restart: close and reopen the store and engine on the same file
//
// The harness never starts Engine.Run: flushes happen only where the flow
// asks for them, so traces do not depend on goroutine scheduling.
//
// # Assertion Types
//
//   - trace_contains: an event with the given action (and id, outcome) exists
//   - trace_order: actions first appear in the given order
//   - trace_count: an action appears exactly N times
//   - final_state: rows of records, sync_queue or remote match expected values
//
// Remote calls appear in the trace as remote.sync, remote.delete and
// remote.fetch.
//
// # Deterministic Testing
//
// The harness uses testutil.DeterministicClock for mutation stamps and a
// sequence generator for batch ids, so the same scenario always produces the
// same trace.
package harness
