package domain

import (
	"errors"
	"fmt"
)

// ErrDuplicateSourceRecord signals that an exception already exists for the
// source record being inserted. It never leaves the detection engine: callers
// of detection see the duplicate path as a successful no-op.
var ErrDuplicateSourceRecord = errors.New("exception already exists for source record")

// ValidationError reports a malformed or missing field on a command.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown exception id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// InvalidStateTransitionError reports a command incompatible with the
// exception's current status, including the loser of a concurrent
// compare-and-swap on status.
type InvalidStateTransitionError struct {
	Current   string
	Attempted string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.Current, e.Attempted)
}

// PermissionDeniedError reports a non-admin attempting an admin-only command.
type PermissionDeniedError struct {
	Action string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied for %s", e.Action)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsInvalidStateTransition(err error) bool {
	var target *InvalidStateTransitionError
	return errors.As(err, &target)
}

func IsPermissionDenied(err error) bool {
	var target *PermissionDeniedError
	return errors.As(err, &target)
}
