package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/stowaway/internal/connectivity"
	"github.com/roach88/stowaway/internal/metrics"
	"github.com/roach88/stowaway/internal/record"
	"github.com/roach88/stowaway/internal/store"
)

// SyncFunc sends a batch of records to the remote service. It must be
// idempotent: a failed batch is retried verbatim. The batch idempotency key is
// available through record.BatchKeyFrom(ctx).
type SyncFunc[T record.Record] func(ctx context.Context, records []T) error

// DeleteFunc removes records from the remote service by id.
type DeleteFunc func(ctx context.Context, ids []string) error

// FetchFunc returns every record held by the remote service.
type FetchFunc[T record.Record] func(ctx context.Context) ([]T, error)

// WritePolicy decides how online writes reach the remote.
type WritePolicy string

const (
	// PushOnline sends online writes immediately and queues only what
	// cannot be delivered.
	PushOnline WritePolicy = "push_online"

	// QueueAlways queues every write; Flush is the only path to the remote.
	QueueAlways WritePolicy = "queue_always"
)

// ParseWritePolicy validates a policy name. The empty string selects PushOnline.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch WritePolicy(s) {
	case "", PushOnline:
		return PushOnline, nil
	case QueueAlways:
		return QueueAlways, nil
	}
	return "", fmt.Errorf("unknown write policy %q", s)
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	policy  WritePolicy
	deleter DeleteFunc
	retry   RetryPolicy
	timeout time.Duration
	clock   *Clock
	ids     IDGenerator
	metrics *metrics.Metrics
}

// WithWritePolicy sets how online writes are delivered. Default: PushOnline.
func WithWritePolicy(p WritePolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithDeleter transmits delete entries through fn. Without a deleter, queued
// deletes are cleared on a successful flush without reaching the remote.
func WithDeleter(fn DeleteFunc) Option {
	return func(o *options) {
		o.deleter = fn
	}
}

// WithRetryPolicy sets the backoff and parking policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.retry = p
	}
}

// WithSyncTimeout bounds every remote call. Zero disables the bound.
// Default: 30s.
func WithSyncTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithClock replaces the stamp clock. Used by tests for determinism.
func WithClock(c *Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithIDGenerator replaces the flush batch id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Engine is the sync engine for records of type T.
//
// Thread-safety model:
//   - Write, Read, Remove, Flush: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Flush is single-flight: overlapping calls are skipped, not queued
type Engine[T record.Record] struct {
	store   *store.Store
	monitor *connectivity.Monitor
	sync    SyncFunc[T]
	options

	flushing atomic.Bool
	wake     *trigger

	mu        sync.Mutex
	failures  int       // consecutive failed flushes
	notBefore time.Time // automatic flushes wait until then
}

// New creates an Engine over st, reading connectivity from mon and sending
// batches through sync.
//
// The engine's clock is advanced past the newest queued entry so entries
// created by this process sort after those of earlier ones.
func New[T record.Record](st *store.Store, mon *connectivity.Monitor, sync SyncFunc[T], opts ...Option) (*Engine[T], error) {
	if st == nil {
		return nil, errors.New("engine: store is required")
	}
	if mon == nil {
		return nil, errors.New("engine: connectivity monitor is required")
	}
	if sync == nil {
		return nil, ErrNoSyncFunc
	}

	o := options{
		policy:  PushOnline,
		retry:   DefaultRetryPolicy(),
		timeout: DefaultSyncTimeout,
		ids:     UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := ParseWritePolicy(string(o.policy)); err != nil {
		return nil, err
	}
	if o.clock == nil {
		o.clock = NewClock()
	}

	entries, err := st.AllEntries(context.Background())
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	for _, en := range entries {
		o.clock.Observe(en.EnqueuedAt)
	}

	e := &Engine[T]{
		store:   st,
		monitor: mon,
		sync:    sync,
		options: o,
		wake:    newTrigger(),
	}
	return e, nil
}

// State returns the current connectivity state.
func (e *Engine[T]) State() connectivity.State {
	return e.monitor.State()
}

// Write persists r locally and arranges for it to reach the remote.
//
// Write returns once the record is durable. Errors are storage or encoding
// failures only; a failed remote push falls back to the queue.
func (e *Engine[T]) Write(ctx context.Context, r T) error {
	payload, err := record.Encode(r)
	if err != nil {
		return err
	}

	id := r.RecordID()
	now := e.clock.Now()
	stored := record.Stored{
		ID:         id,
		Owner:      record.OwnerOf(r),
		ModifiedAt: now,
		Payload:    payload,
	}

	queue, err := e.shouldQueue(ctx, id)
	if err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}

	entry, err := record.NewEntry(record.KindUpdate, id, payload, now)
	if err != nil {
		return err
	}
	err = e.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.PutRecord(ctx, stored); err != nil {
			return err
		}
		return tx.PutEntry(ctx, entry)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}

	if queue {
		slog.Debug("write queued", "entity_id", id, "entry_id", entry.ID)
		e.metrics.Write("queued")
		e.afterEnqueue(context.WithoutCancel(ctx))
		return nil
	}

	err = e.push(ctx, entry, func(ctx context.Context) error {
		return e.sync(ctx, []T{r})
	})
	if err != nil {
		slog.Warn("online write push failed; left queued for next flush",
			"entity_id", id,
			"error", err,
		)
		e.metrics.Write("queued")
		e.afterEnqueue(context.WithoutCancel(ctx))
		return nil
	}
	slog.Debug("write pushed", "entity_id", id)
	e.metrics.Write("pushed")
	return nil
}

// Read returns the record with the given id. A missing id is reported as
// ok == false with a nil error.
func (e *Engine[T]) Read(ctx context.Context, id string) (v T, ok bool, err error) {
	s, err := e.store.GetRecord(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	v, err = record.Decode[T](s.Payload)
	if err != nil {
		return v, false, fmt.Errorf("read %s: %w", id, err)
	}
	return v, true, nil
}

// ReadAll returns every local record ordered by id.
func (e *Engine[T]) ReadAll(ctx context.Context) ([]T, error) {
	return decodeAll[T](e.store.AllRecords(ctx))
}

// ReadByOwner returns the records of one owner, most recently modified first.
func (e *Engine[T]) ReadByOwner(ctx context.Context, owner string) ([]T, error) {
	return decodeAll[T](e.store.RecordsByOwner(ctx, owner))
}

// ReadModifiedSince returns records written after since, oldest first.
func (e *Engine[T]) ReadModifiedSince(ctx context.Context, since time.Time) ([]T, error) {
	return decodeAll[T](e.store.RecordsModifiedSince(ctx, since))
}

func decodeAll[T any](rows []record.Stored, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := record.Decode[T](r.Payload)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", r.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Remove deletes the record with the given id locally and arranges for the
// deletion to reach the remote. Removing a missing id is not an error.
func (e *Engine[T]) Remove(ctx context.Context, id string) error {
	if id == "" {
		return record.ErrMissingID
	}
	now := e.clock.Now()

	queue, err := e.shouldQueue(ctx, id)
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}

	if !queue && e.deleter == nil {
		if err := e.store.DeleteRecord(ctx, id); err != nil {
			return fmt.Errorf("remove %s: %w", id, err)
		}
		slog.Debug("remove kept local: no remote delete function", "entity_id", id)
		e.metrics.Write("local")
		return nil
	}

	entry, err := record.NewEntry(record.KindDelete, id, nil, now)
	if err != nil {
		return err
	}
	err = e.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.DeleteRecord(ctx, id); err != nil {
			return err
		}
		return tx.PutEntry(ctx, entry)
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}

	if queue {
		slog.Debug("remove queued", "entity_id", id, "entry_id", entry.ID)
		e.metrics.Write("queued")
		e.afterEnqueue(context.WithoutCancel(ctx))
		return nil
	}

	err = e.push(ctx, entry, func(ctx context.Context) error {
		return e.deleter(ctx, []string{id})
	})
	if err != nil {
		slog.Warn("online remove push failed; left queued for next flush",
			"entity_id", id,
			"error", err,
		)
		e.metrics.Write("queued")
		e.afterEnqueue(context.WithoutCancel(ctx))
		return nil
	}
	slog.Debug("remove pushed", "entity_id", id)
	e.metrics.Write("pushed")
	return nil
}

// push sends one already-queued entry directly and clears it from the queue
// once the remote accepts it. On failure the entry stays queued for flush.
// A failure to clear it after an accepted push is only logged: the next
// flush resends it under the same batch key.
func (e *Engine[T]) push(ctx context.Context, entry record.QueueEntry, fn func(ctx context.Context) error) error {
	key := record.BatchKey([]record.QueueEntry{entry})
	if err := e.callRemote(ctx, key, fn); err != nil {
		return err
	}
	if err := e.store.DeleteEntries(context.WithoutCancel(ctx), []string{entry.ID}); err != nil {
		slog.Warn("pushed entry could not be cleared; it will be resent",
			"entry_id", entry.ID,
			"error", err,
		)
		e.refreshPending(context.WithoutCancel(ctx))
	}
	return nil
}

// shouldQueue reports whether a mutation of id goes through the queue.
// A record that already has queued entries is queued behind them, parked
// ones included, so the remote never sees its mutations out of order.
func (e *Engine[T]) shouldQueue(ctx context.Context, id string) (bool, error) {
	if e.policy == QueueAlways || !e.monitor.Online() {
		return true, nil
	}
	pending, err := e.store.EntriesFor(ctx, id)
	if err != nil {
		return false, err
	}
	return len(pending) > 0, nil
}

// afterEnqueue refreshes the pending count and, when online, wakes Run so
// the new entry is flushed.
func (e *Engine[T]) afterEnqueue(ctx context.Context) {
	e.refreshPending(ctx)
	if e.monitor.Online() {
		e.wake.fire()
	}
}

func (e *Engine[T]) refreshPending(ctx context.Context) int {
	n, err := e.store.PendingCount(ctx)
	if err != nil {
		slog.Warn("pending count refresh failed", "error", err)
		return 0
	}
	e.monitor.SetPending(n)
	e.metrics.SetPending(n)
	return n
}

// callRemote runs fn with the batch key attached and the sync timeout
// applied. A remote function that ignores its context is abandoned when the
// timeout expires; it keeps running in the background until it returns.
func (e *Engine[T]) callRemote(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if key != "" {
		ctx = record.WithBatchKey(ctx, key)
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
