// Package compose contains pure functions for parsing Docker Compose files
// and resolving their volume mounts. No I/O happens here - callers read the
// file and hand over its content.
package compose

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("compose file is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Compose structure errors
	ErrInvalidSchema = errors.New("invalid compose schema")

	// Filter errors
	ErrUnknownVolume = errors.New("volume not found in project")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "services.web.volumes[0]"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
