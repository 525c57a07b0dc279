package skill

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the stores and services.
var (
	// ErrNotFound means the referenced skill, suggestion or item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness or lifecycle constraint was violated,
	// e.g. duplicate skill id on create or resolving an already-resolved
	// suggestion.
	ErrConflict = errors.New("conflict")
)

// ValidationError rejects a malformed request before any I/O is issued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
