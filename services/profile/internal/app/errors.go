package app

import (
	"errors"
	"fmt"
	"strings"

	"profilehub/pkg/domain"
)

var (
	// ErrPermissionDenied is returned when the submitter is neither the owner
	// nor an admin. Surfaced as a generic denial.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when the referenced profile does not exist.
	ErrNotFound = errors.New("profile not found")

	// ErrProfileExists is returned when a non-admin tries to create a second
	// profile; callers should send the user to the edit flow instead.
	ErrProfileExists = errors.New("profile already exists")
)

// ValidationError reports malformed scalar input as field -> messages.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msgs := range e.Fields {
		parts = append(parts, field+": "+strings.Join(msgs, "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}

// StateError reports an operation invalid for the entity's current
// moderation state, distinct from input validation.
type StateError struct {
	Op    string
	State domain.StateKind
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not valid for profile in state %s", e.Op, e.State)
}

// StorageError wraps a blob store failure that aborted a mutation.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
