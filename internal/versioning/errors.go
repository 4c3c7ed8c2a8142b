package versioning

import (
	"errors"
	"fmt"

	"github.com/rpattn/versioned/internal/repository"
)

var (
	// ErrNotFound is returned when the record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConcurrencyConflict is returned when the optimistic lock rejected a write.
	// Callers should reload the record and retry.
	ErrConcurrencyConflict = errors.New("record was modified concurrently")
	// ErrInvalidRevision reports a revert target that does not belong to the record.
	ErrInvalidRevision = errors.New("invalid revision target")
)

// PersistenceError wraps a storage failure that aborted an operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// storageError maps repository errors onto the engine's error kinds.
func storageError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrStaleRecord):
		return fmt.Errorf("failed to %s: %w", op, ErrConcurrencyConflict)
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("failed to %s: %w", op, ErrNotFound)
	default:
		return &PersistenceError{Op: op, Err: err}
	}
}
