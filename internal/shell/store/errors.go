package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when a catalog record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID is returned when saving a record with an existing ID.
	ErrDuplicateID = errors.New("record with this ID already exists")

	// ErrConnectionFailed is returned when the catalog database cannot be opened.
	ErrConnectionFailed = errors.New("catalog connection failed")

	// ErrMigrationFailed is returned when the catalog schema migration fails.
	ErrMigrationFailed = errors.New("catalog migration failed")

	// ErrInvalidData is returned when JSON serialization/deserialization fails.
	ErrInvalidData = errors.New("invalid data format")
)

// StoreError wraps errors with additional context.
type StoreError struct {
	Op      string // Operation that failed (e.g., "SaveBackup")
	Entity  string // Entity type (e.g., "backup")
	ID      string // Record ID if applicable
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
