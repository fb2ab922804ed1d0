package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/roach88/stowaway/internal/record"
)

// Attempt is the delivery bookkeeping for one queue entry.
type Attempt struct {
	EntryID       string
	Attempts      int
	LastError     string
	LastAttemptAt time.Time
	Parked        bool
}

// RecordFailure increments the attempt count of every entry in ids and parks
// those that reach maxRetries. maxRetries <= 0 never parks. Returns the ids
// parked by this call.
//
// The sync_queue rows themselves are not touched.
func (s *Store) RecordFailure(ctx context.Context, ids []string, errMsg string, at time.Time, maxRetries int) ([]string, error) {
	var parked []string
	err := s.Update(ctx, func(tx *Tx) error {
		for _, id := range ids {
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO delivery_attempts (entry_id, attempts, last_error, last_attempt_at, parked)
				VALUES (?, 1, ?, ?, 0)
				ON CONFLICT(entry_id) DO UPDATE SET
					attempts = attempts + 1,
					last_error = excluded.last_error,
					last_attempt_at = excluded.last_attempt_at
			`, id, errMsg, at.UnixNano())
			if err != nil {
				return storageErr("record failure", err)
			}

			if maxRetries <= 0 {
				continue
			}
			res, err := tx.q.ExecContext(ctx, `
				UPDATE delivery_attempts SET parked = 1
				WHERE entry_id = ? AND parked = 0 AND attempts >= ?
			`, id, maxRetries)
			if err != nil {
				return storageErr("park entry", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				parked = append(parked, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parked, nil
}

// GetAttempt returns the delivery bookkeeping for one entry.
// Returns ErrNotFound if the entry has never failed.
func (s *Store) GetAttempt(ctx context.Context, entryID string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entry_id, attempts, last_error, last_attempt_at, parked
		FROM delivery_attempts
		WHERE entry_id = ?
	`, entryID)

	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrNotFound
	}
	if err != nil {
		return Attempt{}, storageErr("get attempt", err)
	}
	return a, nil
}

// LastFailure returns the most recent failed attempt among pending entries,
// or ErrNotFound if no pending entry has failed.
func (s *Store) LastFailure(ctx context.Context) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT a.entry_id, a.attempts, a.last_error, a.last_attempt_at, a.parked
		FROM delivery_attempts a
		JOIN sync_queue q ON q.id = a.entry_id
		WHERE a.parked = 0
		ORDER BY a.last_attempt_at DESC, a.entry_id ASC
		LIMIT 1
	`)

	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrNotFound
	}
	if err != nil {
		return Attempt{}, storageErr("last failure", err)
	}
	return a, nil
}

// ParkedEntry is a queue entry that exhausted its retries.
type ParkedEntry struct {
	Entry   record.QueueEntry
	Attempt Attempt
}

// ParkedEntries returns every parked entry, oldest first.
func (s *Store) ParkedEntries(ctx context.Context) ([]ParkedEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.kind, q.entity_id, q.payload, q.enqueued_at, a.attempts,
		       a.entry_id, a.attempts, a.last_error, a.last_attempt_at, a.parked
		FROM sync_queue q
		JOIN delivery_attempts a ON a.entry_id = q.id
		WHERE a.parked = 1
		ORDER BY q.enqueued_at ASC, q.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, storageErr("parked entries", err)
	}
	defer rows.Close()

	out := []ParkedEntry{}
	for rows.Next() {
		var (
			p          ParkedEntry
			kind       string
			payload    sql.NullString
			enqueuedAt int64
			lastAt     int64
			parked     int
		)
		err := rows.Scan(
			&p.Entry.ID, &kind, &p.Entry.EntityID, &payload, &enqueuedAt, &p.Entry.RetryCount,
			&p.Attempt.EntryID, &p.Attempt.Attempts, &p.Attempt.LastError, &lastAt, &parked,
		)
		if err != nil {
			return nil, storageErr("parked entries", err)
		}
		p.Entry.Kind = record.Kind(kind)
		if payload.Valid {
			p.Entry.Payload = []byte(payload.String)
		}
		p.Entry.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
		p.Attempt.LastAttemptAt = time.Unix(0, lastAt).UTC()
		p.Attempt.Parked = parked != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("parked entries", err)
	}
	return out, nil
}

// ResetAttempts clears the delivery bookkeeping of an entry so it becomes
// pending again with a fresh retry budget. Returns ErrNotFound if the entry
// is not in the queue.
func (s *Store) ResetAttempts(ctx context.Context, entryID string) error {
	return s.Update(ctx, func(tx *Tx) error {
		var n int
		err := tx.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE id = ?`, entryID).Scan(&n)
		if err != nil {
			return storageErr("reset attempts", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		_, err = tx.q.ExecContext(ctx, `DELETE FROM delivery_attempts WHERE entry_id = ?`, entryID)
		return storageErr("reset attempts", err)
	})
}

func scanAttempt(row scanner) (Attempt, error) {
	var (
		a      Attempt
		lastAt int64
		parked int
	)
	if err := row.Scan(&a.EntryID, &a.Attempts, &a.LastError, &lastAt, &parked); err != nil {
		return Attempt{}, err
	}
	a.LastAttemptAt = time.Unix(0, lastAt).UTC()
	a.Parked = parked != 0
	return a, nil
}
