package scheduling

import (
	"errors"
	"fmt"
)

// ErrSlotBeingBooked is returned when the per-slot booking lock is held by
// another request; the caller should retry.
var ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")

// NotFoundError reports a missing entity along with the lookup field and
// value for diagnostics.
type NotFoundError struct {
	Entity string
	Field  string
	Value  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with %s=%s not found", e.Entity, e.Field, e.Value)
}

func notFound(entity, field, value string) *NotFoundError {
	return &NotFoundError{Entity: entity, Field: field, Value: value}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// InvalidStateError reports an operation attempted against an entity whose
// current state forbids it: booking an unavailable or past slot, mutating a
// terminal visit, double-booking a pet.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string { return e.Reason }

func invalidState(reason string) *InvalidStateError {
	return &InvalidStateError{Reason: reason}
}

// AlreadyExistsError reports a uniqueness violation on creation.
type AlreadyExistsError struct {
	Entity string
	Field  string
	Value  string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s with %s=%s already exists", e.Entity, e.Field, e.Value)
}

// ConflictError reports an optimistic concurrency failure: the entity was
// updated by another request between read and write. The caller may retry
// with a fresh read.
type ConflictError struct {
	Entity string
	ID     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Entity, e.ID)
}

// SerializationError reports that the idempotency gate could not encode or
// decode a stored payload. It is an internal fault, never a domain error of
// the wrapped action.
type SerializationError struct {
	Op  string // "encode" or "decode"
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("idempotency payload %s failed: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
