package repositories

import (
	"errors"
	"fmt"
)

// ErrorCode categorises repository failures independently of the backing store.
type ErrorCode string

const (
	ErrorNotFound    ErrorCode = "not_found"
	ErrorConflict    ErrorCode = "conflict"
	ErrorUnavailable ErrorCode = "unavailable"
)

// Error is the store-agnostic RepositoryError used by the in-memory registry and by Firestore
// adapters for failures that do not originate from a gRPC status.
type Error struct {
	Op      string
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.Code == ErrorNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Code == ErrorConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Code == ErrorUnavailable }

// NewNotFound builds a not-found repository error.
func NewNotFound(op, message string) *Error {
	return &Error{Op: op, Code: ErrorNotFound, Message: message}
}

// NewConflict builds a conflict repository error.
func NewConflict(op, message string) *Error {
	return &Error{Op: op, Code: ErrorConflict, Message: message}
}

// IsNotFound reports whether err carries repository not-found semantics.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries repository conflict semantics.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries repository unavailability semantics.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

var _ RepositoryError = (*Error)(nil)
