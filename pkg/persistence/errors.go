// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates a workflow execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("workflow execution not found")

	// ErrInstanceNotFound indicates a state execution instance was not found.
	ErrInstanceNotFound = errors.New("state execution instance not found")

	// ErrBarrierNotFound indicates a barrier instance was not found.
	ErrBarrierNotFound = errors.New("barrier not found")

	// ErrConstraintNotFound indicates a resource constraint was not found.
	ErrConstraintNotFound = errors.New("resource constraint not found")

	// ErrWaitNotFound indicates a wait group was not found.
	ErrWaitNotFound = errors.New("wait group not found")

	// ErrConcurrentUpdate indicates a compare-and-swap lost against another writer.
	ErrConcurrentUpdate = errors.New("concurrent update")

	// ErrAlreadyNotified indicates a correlation id received a second notification.
	ErrAlreadyNotified = errors.New("correlation id already notified")
)

// RecordError wraps persistence errors with the operation and record involved.
type RecordError struct {
	Op     string // Operation being performed (e.g., "Get", "Update")
	Record string // Record kind (e.g., "instance", "barrier")
	ID     string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Record, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for record errors.
func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewRecordError(op, record, id string, err error) *RecordError {
	return &RecordError{
		Op:     op,
		Record: record,
		ID:     id,
		Err:    err,
	}
}

// IsExecutionNotFound checks if an error indicates a workflow execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsBarrierNotFound checks if an error indicates a barrier was not found.
func IsBarrierNotFound(err error) bool {
	return errors.Is(err, ErrBarrierNotFound)
}

// IsConstraintNotFound checks if an error indicates a constraint was not found.
func IsConstraintNotFound(err error) bool {
	return errors.Is(err, ErrConstraintNotFound)
}

// IsConcurrentUpdate checks if an error is a lost compare-and-swap.
func IsConcurrentUpdate(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate)
}

// IsAlreadyNotified checks if an error reports a duplicate notification.
func IsAlreadyNotified(err error) bool {
	return errors.Is(err, ErrAlreadyNotified)
}
