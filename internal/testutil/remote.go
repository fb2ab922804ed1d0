package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/stowaway/internal/record"
)

// Call is one invocation observed by a RecordingRemote.
type Call[T record.Record] struct {
	Op       string   // "sync", "delete" or "fetch"
	Records  []T      // sync payload
	IDs      []string // delete ids
	BatchKey string
	Err      error // what the remote returned
}

// RecordingRemote is an in-memory remote service for engine tests.
//
// Its Sync, Delete and Fetch methods match engine.SyncFunc, engine.DeleteFunc
// and engine.FetchFunc. Accepted records are kept last-writer-wins, so tests
// can assert on what the remote ends up holding.
//
// Thread-safety: All methods are safe for concurrent use.
type RecordingRemote[T record.Record] struct {
	mu       sync.Mutex
	calls    []Call[T]
	records  map[string]T
	failErr  error
	failLeft int // calls left to fail; -1 means until Recover
	gate     chan struct{}
}

// NewRecordingRemote creates an empty remote that accepts everything.
func NewRecordingRemote[T record.Record]() *RecordingRemote[T] {
	return &RecordingRemote[T]{records: make(map[string]T)}
}

// FailWith makes every following call return err until Recover.
func (r *RecordingRemote[T]) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
	r.failLeft = -1
}

// FailNext makes the next n calls return err.
func (r *RecordingRemote[T]) FailNext(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
	r.failLeft = n
}

// Recover makes the remote accept calls again.
func (r *RecordingRemote[T]) Recover() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = nil
	r.failLeft = 0
}

// Block makes calls wait until the returned release func is called or their
// context ends. Used to hold a flush in progress.
func (r *RecordingRemote[T]) Block() (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if r.gate == gate {
				r.gate = nil
			}
			r.mu.Unlock()
			close(gate)
		})
	}
}

// Seed sets records the remote holds, e.g. for Fetch.
func (r *RecordingRemote[T]) Seed(records ...T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.records[rec.RecordID()] = rec
	}
}

// Sync implements engine.SyncFunc.
func (r *RecordingRemote[T]) Sync(ctx context.Context, records []T) error {
	err := r.enter(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()

	key, _ := record.BatchKeyFrom(ctx)
	r.calls = append(r.calls, Call[T]{Op: "sync", Records: slices.Clone(records), BatchKey: key, Err: err})
	if err != nil {
		return err
	}
	for _, rec := range records {
		r.records[rec.RecordID()] = rec
	}
	return nil
}

// Delete implements engine.DeleteFunc.
func (r *RecordingRemote[T]) Delete(ctx context.Context, ids []string) error {
	err := r.enter(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()

	key, _ := record.BatchKeyFrom(ctx)
	r.calls = append(r.calls, Call[T]{Op: "delete", IDs: slices.Clone(ids), BatchKey: key, Err: err})
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(r.records, id)
	}
	return nil
}

// Fetch implements engine.FetchFunc. Records are returned ordered by id.
func (r *RecordingRemote[T]) Fetch(ctx context.Context) ([]T, error) {
	err := r.enter(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call[T]{Op: "fetch", Err: err})
	if err != nil {
		return nil, err
	}
	return r.sortedLocked(), nil
}

// enter waits on the gate, then consumes a failure if one is armed.
func (r *RecordingRemote[T]) enter(ctx context.Context) error {
	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr == nil {
		return nil
	}
	err := r.failErr
	if r.failLeft > 0 {
		r.failLeft--
		if r.failLeft == 0 {
			r.failErr = nil
		}
	}
	return err
}

// Calls returns every call observed so far.
func (r *RecordingRemote[T]) Calls() []Call[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// SyncBatches returns the record batches of every sync call, failed ones included.
func (r *RecordingRemote[T]) SyncBatches() [][]T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]T
	for _, c := range r.calls {
		if c.Op == "sync" {
			out = append(out, c.Records)
		}
	}
	return out
}

// Records returns what the remote holds, ordered by id.
func (r *RecordingRemote[T]) Records() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

func (r *RecordingRemote[T]) sortedLocked() []T {
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.records[id])
	}
	return out
}
