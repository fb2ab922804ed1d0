package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/stowaway/internal/store"
)

// FailedEntries lists entries parked after exhausting their retries.
// They are not flushed and not counted as pending, and neither are the other
// queued entries of the same record.
func (e *Engine[T]) FailedEntries(ctx context.Context) ([]store.ParkedEntry, error) {
	return e.store.ParkedEntries(ctx)
}

// RetryEntry returns a parked entry to the pending queue with a fresh retry
// budget. Returns store.ErrNotFound for an unknown id and ErrEntryNotParked
// for an entry that is still pending.
func (e *Engine[T]) RetryEntry(ctx context.Context, entryID string) error {
	if err := e.requireParked(ctx, entryID); err != nil {
		return err
	}
	if err := e.store.ResetAttempts(ctx, entryID); err != nil {
		return fmt.Errorf("retry entry %s: %w", entryID, err)
	}
	slog.Info("parked entry returned to queue", "entry_id", entryID)
	e.afterEnqueue(ctx)
	return nil
}

// DiscardEntry deletes a parked entry without sending it. The local record is
// not touched. Later entries held behind it become pending again.
func (e *Engine[T]) DiscardEntry(ctx context.Context, entryID string) error {
	if err := e.requireParked(ctx, entryID); err != nil {
		return err
	}
	if err := e.store.DeleteEntry(ctx, entryID); err != nil {
		return fmt.Errorf("discard entry %s: %w", entryID, err)
	}
	slog.Warn("parked entry discarded", "entry_id", entryID)
	e.afterEnqueue(ctx)
	return nil
}

func (e *Engine[T]) requireParked(ctx context.Context, entryID string) error {
	if _, err := e.store.GetEntry(ctx, entryID); err != nil {
		return err
	}
	a, err := e.store.GetAttempt(ctx, entryID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrEntryNotParked
	}
	if err != nil {
		return err
	}
	if !a.Parked {
		return ErrEntryNotParked
	}
	return nil
}
