// Package storage keeps photosync's progress ledger on the local
// filesystem: the state file, its lock and atomic replacement.
package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageCorrupt reports a state file that is not a valid ledger.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout reports that another run held the state file for the
	// whole lock timeout.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
	// ErrClosed reports a write to a ledger after Close.
	ErrClosed = errors.New("storage: ledger closed")
)

// StorageError records which state file operation failed.
type StorageError struct {
	Op   string // "read", "write" or "lock"
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
