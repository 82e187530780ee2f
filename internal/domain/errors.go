package domain

import (
	"errors"
	"fmt"
)

// Operation outcomes. Every admin operation and deployment resolves to
// success or exactly one of these.
var (
	// ErrUnauthorized means the principal has no visibility into the target
	// team. No mutation has occurred.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict means a uniqueness invariant would be violated. No
	// mutation has occurred.
	ErrConflict = errors.New("conflict")

	// ErrNotFound means a referenced team or user does not exist in the
	// catalog.
	ErrNotFound = errors.New("not found")

	// ErrTransient marks connectivity or timeout failures against the
	// store. The whole operation is safe to retry.
	ErrTransient = errors.New("transient store failure")
)

// SyncError reports that a catalog mutation committed but the corresponding
// database-level synchronization primitive failed or partially applied. The
// catalog write stands; the named primitive is idempotent and must be re-run
// by an operator to reconcile.
type SyncError struct {
	Primitive string
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync divergence in %s: %v", e.Primitive, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
