// Package errors defines the coded error taxonomy shared by every layer of
// the approval engine. Callers branch on the stable Code, never on message
// text or wrapped storage errors.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code is a stable machine-readable error class.
type Code string

const (
	// ErrCodeValidation marks malformed input. Caller-fixable, never retried.
	ErrCodeValidation Code = "VALIDATION_ERROR"
	// ErrCodeNotFound marks an unknown workflow, step or subject.
	ErrCodeNotFound Code = "NOT_FOUND"
	// ErrCodeBusinessLogic marks a domain invariant violation
	// (step already decided, workflow already completed).
	ErrCodeBusinessLogic Code = "BUSINESS_LOGIC_ERROR"
	// ErrCodeConflict marks a storage-level concurrent-write failure.
	// The only class the retry policy acts on.
	ErrCodeConflict Code = "CONFLICT"
	// ErrCodeSideEffect marks a terminal side-effect handler failure.
	ErrCodeSideEffect Code = "SIDE_EFFECT_ERROR"
	// ErrCodeUnauthorized marks an actor not allowed to act on a step.
	ErrCodeUnauthorized Code = "UNAUTHORIZED"
	// ErrCodeInternal marks unexpected failures (storage, serialization).
	ErrCodeInternal Code = "INTERNAL"
)

// Error carries a code, a human message and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// New returns a coded error with the given message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf returns a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
// Wrapping nil returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource by type and identifier.
func NotFound(resource, id string) error {
	return Newf(ErrCodeNotFound, "%s not found: %s", resource, id)
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) error {
	return Newf(ErrCodeValidation, "invalid %s: %s", field, message)
}

// Conflict reports a concurrent-modification failure.
func Conflict(message string) error {
	return New(ErrCodeConflict, message)
}

// CodeOf extracts the code from an error chain.
// Unclassified errors report ErrCodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Code == code
}

// IsRetryable reports whether the error is a transient conflict that the
// retry policy may re-execute. Every other class propagates immediately.
func IsRetryable(err error) bool {
	return HasCode(err, ErrCodeConflict)
}
