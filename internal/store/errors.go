package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by operations that must address an existing record.
	ErrNotFound = errors.New("not found")

	// ErrIndexUnavailable means the full-text index could not serve a query.
	// Search handles it by falling back to a scan; callers never see it.
	ErrIndexUnavailable = errors.New("full-text index unavailable")
)

// StorageError wraps a failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
