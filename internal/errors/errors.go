// Package errors provides structured error types for the versioning engine.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes.
var (
	ErrStoreUnavailable = errors.New("backing store unavailable")
	ErrMissingSession   = errors.New("referenced session does not exist")
	ErrNotFound         = errors.New("resource not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("conflicting write")
)

// UnknownVersionError is returned when a version label does not exist for a project.
type UnknownVersionError struct {
	ProjectID string
	Label     string
	Valid     []string
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown version %q for project %s (valid: %s)",
		e.Label, e.ProjectID, strings.Join(e.Valid, ", "))
}

// Is lets errors.Is(err, ErrNotFound) match unknown versions.
func (e *UnknownVersionError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound wraps ErrNotFound with the kind and identifier of the missing resource.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// Invalid wraps ErrInvalidInput with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidInput)
}

// IsRetryable returns true if the error is transient and the failed call was read-only.
// Callers must not retry writes on this signal alone.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
