package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable is matched (via errors.Is) by every failure of the
	// underlying device storage: open, lock, quota, corruption, permission.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned by single-item reads of a missing id.
	ErrNotFound = errors.New("not found")

	// ErrLocked means another process holds the database.
	ErrLocked = errors.New("database is locked by another process")
)

// StorageError describes a failed storage operation.
type StorageError struct {
	Op  string // operation, e.g. "put record"
	Err error  // underlying driver error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageUnavailable, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes every StorageError match ErrStorageUnavailable.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
