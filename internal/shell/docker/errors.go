package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Volume errors
	ErrVolumeNotFound = errors.New("volume not found")
	ErrVolumeInUse    = errors.New("volume is in use")

	// Container errors
	ErrContainerFailed = errors.New("transient container failed")

	// Image errors
	ErrImageNotFound   = errors.New("image not found")
	ErrImagePullFailed = errors.New("image pull failed")

	// Connection errors
	ErrConnectionFailed = errors.New("docker connection failed")
	ErrTimeout          = errors.New("operation timed out")
)

// EngineError wraps errors with additional context.
type EngineError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (volume, container, image)
	ID      string // Entity name or ID if applicable
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError.
func NewEngineError(op, entity, id, message string, err error) *EngineError {
	return &EngineError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
