package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/stowaway/internal/record"
)

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// GetRecord retrieves a single record by id.
// Returns ErrNotFound if the id is absent.
func (s *Store) GetRecord(ctx context.Context, id string) (record.Stored, error) {
	return getRecord(ctx, s.db, id)
}

// GetRecord is GetRecord inside a transaction.
func (tx *Tx) GetRecord(ctx context.Context, id string) (record.Stored, error) {
	return getRecord(ctx, tx.q, id)
}

func getRecord(ctx context.Context, q querier, id string) (record.Stored, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, owner, modified_at, payload
		FROM records
		WHERE id = ?
	`, id)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Stored{}, ErrNotFound
	}
	if err != nil {
		return record.Stored{}, storageErr("get record", err)
	}
	return r, nil
}

// AllRecords returns every record ordered by id.
// Returns an empty slice (not nil) if the collection is empty.
func (s *Store) AllRecords(ctx context.Context) ([]record.Stored, error) {
	return s.queryRecords(ctx, "all records", `
		SELECT id, owner, modified_at, payload
		FROM records
		ORDER BY id COLLATE BINARY ASC
	`)
}

// RecordsByOwner returns the records of one owner, most recently modified first.
// Uses idx_records_owner.
func (s *Store) RecordsByOwner(ctx context.Context, owner string) ([]record.Stored, error) {
	return s.queryRecords(ctx, "records by owner", `
		SELECT id, owner, modified_at, payload
		FROM records
		WHERE owner = ?
		ORDER BY modified_at DESC, id COLLATE BINARY ASC
	`, owner)
}

// RecordsModifiedSince returns records modified strictly after since, oldest
// first. Uses idx_records_modified_at.
func (s *Store) RecordsModifiedSince(ctx context.Context, since time.Time) ([]record.Stored, error) {
	return s.queryRecords(ctx, "records modified since", `
		SELECT id, owner, modified_at, payload
		FROM records
		WHERE modified_at > ?
		ORDER BY modified_at ASC, id COLLATE BINARY ASC
	`, since.UnixNano())
}

func (s *Store) queryRecords(ctx context.Context, op, query string, args ...any) ([]record.Stored, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	records := []record.Stored{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return records, nil
}

func scanRecord(row scanner) (record.Stored, error) {
	var (
		r          record.Stored
		modifiedAt int64
		payload    string
	)
	if err := row.Scan(&r.ID, &r.Owner, &modifiedAt, &payload); err != nil {
		return record.Stored{}, err
	}
	r.ModifiedAt = time.Unix(0, modifiedAt).UTC()
	r.Payload = json.RawMessage(payload)
	return r, nil
}

// GetEntry retrieves a single queue entry by id, parked or not.
// Returns ErrNotFound if the id is absent.
func (s *Store) GetEntry(ctx context.Context, id string) (record.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT q.id, q.kind, q.entity_id, q.payload, q.enqueued_at, COALESCE(a.attempts, 0)
		FROM sync_queue q
		LEFT JOIN delivery_attempts a ON a.entry_id = q.id
		WHERE q.id = ?
	`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.QueueEntry{}, ErrNotFound
	}
	if err != nil {
		return record.QueueEntry{}, storageErr("get entry", err)
	}
	return e, nil
}

// heldEntities selects the entities that have a parked entry. Every entry of
// such an entity is held back until the parked one is retried or discarded,
// so later mutations never reach the remote ahead of it.
const heldEntities = `
	SELECT hq.entity_id
	FROM sync_queue hq
	JOIN delivery_attempts ha ON ha.entry_id = hq.id
	WHERE ha.parked = 1
`

// PendingEntries returns every queue entry whose entity has no parked entry,
// oldest first. Ties on enqueued_at are broken by id, which embeds the same
// timestamp. Returns an empty slice (not nil) if nothing is pending.
func (s *Store) PendingEntries(ctx context.Context) ([]record.QueueEntry, error) {
	return s.queryEntries(ctx, "pending entries", `
		SELECT q.id, q.kind, q.entity_id, q.payload, q.enqueued_at, COALESCE(a.attempts, 0)
		FROM sync_queue q
		LEFT JOIN delivery_attempts a ON a.entry_id = q.id
		WHERE q.entity_id NOT IN (`+heldEntities+`)
		ORDER BY q.enqueued_at ASC, q.id COLLATE BINARY ASC
	`)
}

// AllEntries returns every queue entry including parked ones, oldest first.
func (s *Store) AllEntries(ctx context.Context) ([]record.QueueEntry, error) {
	return s.queryEntries(ctx, "all entries", `
		SELECT q.id, q.kind, q.entity_id, q.payload, q.enqueued_at, COALESCE(a.attempts, 0)
		FROM sync_queue q
		LEFT JOIN delivery_attempts a ON a.entry_id = q.id
		ORDER BY q.enqueued_at ASC, q.id COLLATE BINARY ASC
	`)
}

// EntriesFor returns the queued entries of one entity, oldest first.
func (s *Store) EntriesFor(ctx context.Context, entityID string) ([]record.QueueEntry, error) {
	return s.queryEntries(ctx, "entries for entity", `
		SELECT q.id, q.kind, q.entity_id, q.payload, q.enqueued_at, COALESCE(a.attempts, 0)
		FROM sync_queue q
		LEFT JOIN delivery_attempts a ON a.entry_id = q.id
		WHERE q.entity_id = ?
		ORDER BY q.enqueued_at ASC, q.id COLLATE BINARY ASC
	`, entityID)
}

// PendingCount returns the number of entries PendingEntries would return.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sync_queue q
		WHERE q.entity_id NOT IN (`+heldEntities+`)
	`).Scan(&n)
	if err != nil {
		return 0, storageErr("pending count", err)
	}
	return n, nil
}

func (s *Store) queryEntries(ctx context.Context, op, query string, args ...any) ([]record.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	entries := []record.QueueEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return entries, nil
}

func scanEntry(row scanner) (record.QueueEntry, error) {
	var (
		e          record.QueueEntry
		kind       string
		payload    sql.NullString
		enqueuedAt int64
	)
	if err := row.Scan(&e.ID, &kind, &e.EntityID, &payload, &enqueuedAt, &e.RetryCount); err != nil {
		return record.QueueEntry{}, err
	}
	e.Kind = record.Kind(kind)
	if !e.Kind.Valid() {
		return record.QueueEntry{}, fmt.Errorf("entry %s: unknown kind %q", e.ID, kind)
	}
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	e.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	return e, nil
}

// QueuedEntities returns the ids of every record with a queued entry,
// parked ones included.
func (s *Store) QueuedEntities(ctx context.Context) (map[string]bool, error) {
	return queuedEntities(ctx, s.db)
}

// QueuedEntities is Store.QueuedEntities inside the transaction.
func (tx *Tx) QueuedEntities(ctx context.Context) (map[string]bool, error) {
	return queuedEntities(ctx, tx.q)
}

func queuedEntities(ctx context.Context, q querier) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT entity_id FROM sync_queue`)
	if err != nil {
		return nil, storageErr("queued entities", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("queued entities", err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("queued entities", err)
	}
	return ids, nil
}
