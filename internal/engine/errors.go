package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ValidationError reports input that failed a structural check (empty or
// over-long name, bad color format, unknown enum value). Recoverable by
// the caller correcting the input.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// CycleError reports a reparent that would make a tag its own ancestor.
type CycleError struct {
	TagID       uuid.UUID
	NewParentID uuid.UUID
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("moving tag %s under %s would create a cycle", e.TagID, e.NewParentID)
}

// DuplicateNameError reports a sibling name collision. Name comparison is
// case-insensitive among tags sharing the same parent.
type DuplicateNameError struct {
	Name     string
	ParentID *uuid.UUID
}

// Error implements the error interface.
func (e *DuplicateNameError) Error() string {
	if e.ParentID == nil {
		return fmt.Sprintf("a root tag named %q already exists", e.Name)
	}
	return fmt.Sprintf("a tag named %q already exists under parent %s", e.Name, *e.ParentID)
}

// NotFoundError reports a missing tag, rule, or resource within the
// organization scope of the call.
type NotFoundError struct {
	Kind string // "tag", "rule", "tagging"
	ID   string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// AuthorizationError reports an actor without org-scoped write rights.
// Never retried internally.
type AuthorizationError struct {
	ActorID        uuid.UUID
	OrganizationID uuid.UUID
}

// Error implements the error interface.
func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s is not authorized to modify organization %s", e.ActorID, e.OrganizationID)
}

// PersistenceError wraps a datastore failure during a mutation+audit
// transaction. The operation rolled back whole; nothing was partially
// applied, so the caller may retry the entire call.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying datastore error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// wrapPersistence wraps an infrastructure failure as a PersistenceError.
// Domain errors surfaced from inside a transaction pass through untouched
// so their kind survives the rollback plumbing.
func wrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		validationErr  *ValidationError
		cycleErr       *CycleError
		duplicateErr   *DuplicateNameError
		notFoundErr    *NotFoundError
		authzErr       *AuthorizationError
		persistenceErr *PersistenceError
	)
	switch {
	case errors.As(err, &validationErr),
		errors.As(err, &cycleErr),
		errors.As(err, &duplicateErr),
		errors.As(err, &notFoundErr),
		errors.As(err, &authzErr),
		errors.As(err, &persistenceErr):
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
