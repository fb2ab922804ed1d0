package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSyncFunc is returned by New when no remote sync function is given.
	ErrNoSyncFunc = errors.New("remote sync function is required")

	// ErrEntryNotParked is returned by RetryEntry and DiscardEntry for an
	// entry that is still pending.
	ErrEntryNotParked = errors.New("entry is not parked")
)

// SyncBatchFailedError describes a rejected remote call during a flush.
//
// Flush never returns it as its error: it is reported through
// FlushResult.Err and the queue is left as it was.
type SyncBatchFailedError struct {
	// BatchID correlates the failure with log lines.
	BatchID string

	// Op is the remote operation that failed: "sync" or "delete".
	Op string

	// Entries is the number of queue entries in the rejected call.
	Entries int

	// Attempt is the highest attempt count among those entries, this one included.
	Attempt int

	// Parked lists entries that reached the retry limit on this failure.
	Parked []string

	// Err is the error returned by the remote function.
	Err error
}

// Error implements the error interface.
func (e *SyncBatchFailedError) Error() string {
	return fmt.Sprintf("sync batch %s failed: %s of %d entries (attempt %d): %v",
		e.BatchID, e.Op, e.Entries, e.Attempt, e.Err)
}

func (e *SyncBatchFailedError) Unwrap() error {
	return e.Err
}

// IsSyncBatchFailed returns true if err is a SyncBatchFailedError.
// Uses errors.As to handle wrapped errors.
func IsSyncBatchFailed(err error) bool {
	var se *SyncBatchFailedError
	return errors.As(err, &se)
}
