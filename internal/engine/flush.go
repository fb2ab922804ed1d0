package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/stowaway/internal/record"
)

// FlushResult summarizes one flush pass.
type FlushResult struct {
	BatchID string `json:"batch_id,omitempty"`

	// Skipped is set when another flush was already running.
	Skipped bool `json:"skipped,omitempty"`

	Entries           int      `json:"entries"`            // pending entries read
	Sent              int      `json:"sent"`               // update entries accepted by the remote
	DeletesSent       int      `json:"deletes_sent"`       // delete entries accepted by the remote
	DeletesDropped    int      `json:"deletes_dropped"`    // delete entries cleared without a delete function
	DeletesSuperseded int      `json:"deletes_superseded"` // deletes followed by a later update of the same record
	Cleared           int      `json:"cleared"`            // entries removed from the queue
	Parked            []string `json:"parked,omitempty"`   // entries that reached the retry limit

	// Err is a *SyncBatchFailedError when the remote rejected the batch.
	Err error `json:"-"`
}

// batch is the pending queue split by what happens to each entry.
type batch[T record.Record] struct {
	updates    []record.QueueEntry
	records    []T
	deletes    []record.QueueEntry
	superseded []record.QueueEntry
}

// Flush replays the pending queue against the remote.
//
// The returned error is a storage failure only. A rejected remote call is
// logged, reported through FlushResult.Err and leaves the queue untouched.
// Manual calls ignore the backoff delay; Run does not.
func (e *Engine[T]) Flush(ctx context.Context) (FlushResult, error) {
	if !e.flushing.CompareAndSwap(false, true) {
		slog.Debug("flush already in progress")
		e.metrics.FlushCompleted("skipped", 0)
		return FlushResult{Skipped: true}, nil
	}
	defer e.flushing.Store(false)

	start := time.Now()
	e.monitor.SetSyncing(true)
	defer e.monitor.SetSyncing(false)

	res, err := e.flush(ctx)

	outcome := "success"
	switch {
	case err != nil || res.Err != nil:
		outcome = "failure"
	case res.Entries == 0:
		outcome = "empty"
	}
	e.metrics.FlushCompleted(outcome, time.Since(start))
	return res, err
}

func (e *Engine[T]) flush(ctx context.Context) (FlushResult, error) {
	entries, err := e.store.PendingEntries(ctx)
	if err != nil {
		return FlushResult{}, fmt.Errorf("flush: %w", err)
	}
	if len(entries) == 0 {
		e.markSynced(ctx)
		return FlushResult{}, nil
	}

	res := FlushResult{
		BatchID: e.ids.Generate(),
		Entries: len(entries),
	}
	b, err := partition[T](entries)
	if err != nil {
		return res, fmt.Errorf("flush %s: %w", res.BatchID, err)
	}

	slog.Info("flush started",
		"batch_id", res.BatchID,
		"updates", len(b.updates),
		"deletes", len(b.deletes),
	)

	var cleared []record.QueueEntry

	if len(b.updates) > 0 {
		err := e.callRemote(ctx, record.BatchKey(b.updates), func(ctx context.Context) error {
			return e.sync(ctx, b.records)
		})
		if err != nil {
			return e.fail(ctx, res, "sync", b.updates, err)
		}
		res.Sent = len(b.updates)
		cleared = append(cleared, b.updates...)
	}

	res.DeletesSuperseded = len(b.superseded)
	cleared = append(cleared, b.superseded...)

	if len(b.deletes) > 0 {
		if e.deleter == nil {
			res.DeletesDropped = len(b.deletes)
			slog.Warn("delete entries cleared without transmission: no remote delete function configured",
				"batch_id", res.BatchID,
				"count", len(b.deletes),
				"entity_ids", entityIDs(b.deletes),
			)
			e.metrics.DeletesDropped(len(b.deletes))
		} else {
			err := e.callRemote(ctx, record.BatchKey(b.deletes), func(ctx context.Context) error {
				return e.deleter(ctx, entityIDs(b.deletes))
			})
			if err != nil {
				// Updates were accepted; clear them so they are not resent.
				if cerr := e.store.DeleteEntries(ctx, entryIDs(cleared)); cerr != nil {
					return res, fmt.Errorf("flush %s: %w", res.BatchID, cerr)
				}
				res.Cleared = len(cleared)
				e.metrics.Sent(res.Sent, 0)
				return e.fail(ctx, res, "delete", b.deletes, err)
			}
			res.DeletesSent = len(b.deletes)
		}
		cleared = append(cleared, b.deletes...)
	}

	if err := e.store.DeleteEntries(ctx, entryIDs(cleared)); err != nil {
		return res, fmt.Errorf("flush %s: %w", res.BatchID, err)
	}
	res.Cleared = len(cleared)
	e.metrics.Sent(res.Sent, res.DeletesSent)

	e.mu.Lock()
	e.failures = 0
	e.notBefore = time.Time{}
	e.mu.Unlock()

	pending := e.markSynced(ctx)
	slog.Info("flush completed",
		"batch_id", res.BatchID,
		"sent", res.Sent,
		"deletes_sent", res.DeletesSent,
		"deletes_dropped", res.DeletesDropped,
		"cleared", res.Cleared,
		"pending", pending,
	)

	// Entries written while this flush was running.
	if pending > 0 && e.monitor.Online() {
		e.wake.fire()
	}
	return res, nil
}

// fail records a rejected remote call against entries, parks the ones that
// ran out of retries and schedules the next automatic attempt.
func (e *Engine[T]) fail(ctx context.Context, res FlushResult, op string, entries []record.QueueEntry, cause error) (FlushResult, error) {
	ids := entryIDs(entries)
	parked, err := e.store.RecordFailure(ctx, ids, cause.Error(), e.clock.now(), e.retry.MaxRetries)
	if err != nil {
		return res, fmt.Errorf("flush %s: %w", res.BatchID, err)
	}

	attempt := 0
	for _, en := range entries {
		if en.RetryCount+1 > attempt {
			attempt = en.RetryCount + 1
		}
	}

	e.mu.Lock()
	e.failures++
	delay := e.retry.Backoff(e.failures)
	e.notBefore = e.clock.now().Add(delay)
	e.mu.Unlock()

	sbf := &SyncBatchFailedError{
		BatchID: res.BatchID,
		Op:      op,
		Entries: len(entries),
		Attempt: attempt,
		Parked:  parked,
		Err:     cause,
	}
	res.Err = sbf
	res.Parked = parked

	slog.Error("sync batch failed; queue left intact",
		"batch_id", res.BatchID,
		"op", op,
		"entries", len(entries),
		"attempt", attempt,
		"retry_in", delay,
		"error", cause,
	)
	if len(parked) > 0 {
		slog.Warn("entries parked after exhausting retries",
			"batch_id", res.BatchID,
			"count", len(parked),
			"entry_ids", parked,
		)
		e.metrics.Parked(len(parked))
		e.refreshPending(ctx)
	}
	return res, nil
}

// markSynced records a completed pass and returns the remaining pending count.
func (e *Engine[T]) markSynced(ctx context.Context) int {
	n, err := e.store.PendingCount(ctx)
	if err != nil {
		slog.Warn("pending count refresh failed", "error", err)
		n = e.monitor.State().PendingCount
	}
	e.monitor.MarkSynced(e.clock.now().UTC(), n)
	e.metrics.SetPending(n)
	return n
}

// backoffRemaining returns how long automatic flushes must still wait.
func (e *Engine[T]) backoffRemaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.notBefore.IsZero() {
		return 0
	}
	return e.notBefore.Sub(e.clock.now())
}

// partition splits entries, oldest first, into the update batch and the
// deletes. A delete followed by a later update of the same record is
// superseded: the update recreates the record, so the delete is not sent.
func partition[T record.Record](entries []record.QueueEntry) (batch[T], error) {
	lastUpdate := make(map[string]int)
	for i, en := range entries {
		if en.Kind.CarriesPayload() {
			lastUpdate[en.EntityID] = i
		}
	}

	var b batch[T]
	for i, en := range entries {
		if en.Kind.CarriesPayload() {
			r, err := record.Decode[T](en.Payload)
			if err != nil {
				return batch[T]{}, fmt.Errorf("entry %s: %w", en.ID, err)
			}
			b.updates = append(b.updates, en)
			b.records = append(b.records, r)
			continue
		}
		if j, ok := lastUpdate[en.EntityID]; ok && j > i {
			b.superseded = append(b.superseded, en)
			continue
		}
		b.deletes = append(b.deletes, en)
	}
	return b, nil
}

func entryIDs(entries []record.QueueEntry) []string {
	ids := make([]string, len(entries))
	for i, en := range entries {
		ids[i] = en.ID
	}
	return ids
}

// entityIDs returns the distinct entity ids of entries in first-seen order.
func entityIDs(entries []record.QueueEntry) []string {
	seen := make(map[string]bool, len(entries))
	ids := make([]string, 0, len(entries))
	for _, en := range entries {
		if seen[en.EntityID] {
			continue
		}
		seen[en.EntityID] = true
		ids = append(ids, en.EntityID)
	}
	return ids
}
