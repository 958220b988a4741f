package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Error kinds surfaced as terminal statuses.
var (
	ErrValidation     = errors.New("validation error")
	ErrInvalidRequest = errors.New("invalid request")
	ErrConstraint     = errors.New("constraint error")
	ErrTimeout        = errors.New("timeout")
	ErrDelegateTask   = errors.New("delegate task failure")
	ErrAbortedByUser  = errors.New("aborted by user")
)

// ValidationError reports malformed state configuration, caught before execution.
type ValidationError struct {
	StateName string
	Fields    map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field, message := range e.Fields {
		fields = append(fields, field+": "+message)
	}

	sort.Strings(fields)

	return fmt.Sprintf("invalid configuration for state %s: %s", e.StateName, strings.Join(fields, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InvalidRequestError reports a required context element missing at execution time.
type InvalidRequestError struct {
	StateName string
	Message   string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request for state %s: %s", e.StateName, e.Message)
}

func (e *InvalidRequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// ConstraintError wraps a resource constraint registration failure.
type ConstraintError struct {
	Op           string
	ConstraintID string
	Err          error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s operation failed for constraint %s: %v", e.Op, e.ConstraintID, e.Err)
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

func (e *ConstraintError) Is(target error) bool {
	return target == ErrConstraint
}

type TimeoutError struct {
	InstanceID string
	Timeout    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("state execution %s timed out after %s", e.InstanceID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// DelegateTaskFailure reports that an external task could not be dispatched.
type DelegateTaskFailure struct {
	TaskType string
	Err      error
}

func (e *DelegateTaskFailure) Error() string {
	return fmt.Sprintf("failed to delegate %s task: %v", e.TaskType, e.Err)
}

func (e *DelegateTaskFailure) Unwrap() error {
	return e.Err
}

func (e *DelegateTaskFailure) Is(target error) bool {
	return target == ErrDelegateTask
}

type AbortedByUser struct {
	ExecutionID string
	Reason      string
}

func (e *AbortedByUser) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("execution %s aborted by user", e.ExecutionID)
	}

	return fmt.Sprintf("execution %s aborted by user: %s", e.ExecutionID, e.Reason)
}

func (e *AbortedByUser) Is(target error) bool {
	return target == ErrAbortedByUser
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

func IsConstraintError(err error) bool {
	return errors.Is(err, ErrConstraint)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
