package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/stowaway/internal/record"
)

// querier is satisfied by both *sql.DB and *sql.Tx so every operation can
// run standalone or inside Update.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx groups store operations into one atomic transaction.
// Obtain one through Store.Update.
type Tx struct {
	q querier
}

// Update runs fn in a single transaction. If fn returns an error, nothing fn
// wrote is kept. The error from fn is returned unchanged.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// PutRecord inserts or overwrites a record by id.
func (s *Store) PutRecord(ctx context.Context, r record.Stored) error {
	return putRecord(ctx, s.db, r)
}

// PutRecord is PutRecord inside a transaction.
func (tx *Tx) PutRecord(ctx context.Context, r record.Stored) error {
	return putRecord(ctx, tx.q, r)
}

func putRecord(ctx context.Context, q querier, r record.Stored) error {
	if r.ID == "" {
		return record.ErrMissingID
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO records (id, owner, modified_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			modified_at = excluded.modified_at,
			payload = excluded.payload
	`,
		r.ID,
		r.Owner,
		r.ModifiedAt.UnixNano(),
		string(r.Payload),
	)
	return storageErr("put record", err)
}

// DeleteRecord removes a record. Deleting a missing id is not an error.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	return deleteRecord(ctx, s.db, id)
}

// DeleteRecord is DeleteRecord inside a transaction.
func (tx *Tx) DeleteRecord(ctx context.Context, id string) error {
	return deleteRecord(ctx, tx.q, id)
}

func deleteRecord(ctx context.Context, q querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	return storageErr("delete record", err)
}

// PutEntry inserts a queue entry. Re-putting an entry with the same id is a
// no-op: entries are never rewritten.
func (s *Store) PutEntry(ctx context.Context, e record.QueueEntry) error {
	return putEntry(ctx, s.db, e)
}

// PutEntry is PutEntry inside a transaction.
func (tx *Tx) PutEntry(ctx context.Context, e record.QueueEntry) error {
	return putEntry(ctx, tx.q, e)
}

func putEntry(ctx context.Context, q querier, e record.QueueEntry) error {
	if e.ID == "" || e.EntityID == "" {
		return record.ErrMissingID
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("put entry %s: invalid kind %q", e.ID, e.Kind)
	}

	var payload sql.NullString
	if e.Kind.CarriesPayload() {
		payload = sql.NullString{String: string(e.Payload), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_queue (id, kind, entity_id, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		string(e.Kind),
		e.EntityID,
		payload,
		e.EnqueuedAt.UnixNano(),
	)
	return storageErr("put entry", err)
}

// DeleteEntry removes a queue entry and its delivery bookkeeping.
// Deleting a missing id is not an error.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	return s.DeleteEntries(ctx, []string{id})
}

// DeleteEntries removes queue entries and their delivery bookkeeping in one
// transaction.
func (s *Store) DeleteEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.Update(ctx, func(tx *Tx) error {
		return tx.DeleteEntries(ctx, ids)
	})
}

// DeleteEntries is DeleteEntries inside a transaction.
func (tx *Tx) DeleteEntries(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
			return storageErr("delete entry", err)
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM delivery_attempts WHERE entry_id = ?`, id); err != nil {
			return storageErr("delete attempts", err)
		}
	}
	return nil
}
