package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// PermissionError is returned by services when an authenticated user may not perform an action.
type PermissionError struct {
	Reason string
}

func NewPermissionError(reason string) error {
	return &PermissionError{Reason: reason}
}

func (err PermissionError) Error() string {
	if err.Reason == "" {
		return "permission denied"
	}
	return err.Reason
}

func IsPermissionError(err error) bool {
	_, ok := errors.Cause(err).(*PermissionError)
	return ok
}

// ConflictError is returned when an operation clashes with the current state of a resource.
type ConflictError struct {
	Err error
}

func NewConflictError(err error) error {
	return &ConflictError{Err: err}
}

func (err ConflictError) Error() string {
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
