// Package apperr defines the error kinds shared by the review and merge packages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidReference      = errors.New("invalid reference")
	ErrValidationFailed      = errors.New("validation failed")
	ErrInsufficientApprovals = errors.New("insufficient approvals")
	ErrAssetMigrationFailed  = errors.New("asset migration failed")
	ErrAlreadyMerged         = errors.New("already merged")
	ErrVersionConflict       = errors.New("version conflict")
	ErrForbidden             = errors.New("forbidden")
)

// Error carries one of the kinds above with a caller-facing message.
type Error struct {
	Kind    error
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func New(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind error, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(format string, args ...any) *Error {
	return New(ErrNotFound, fmt.Sprintf(format, args...))
}

func InvalidReference(format string, args ...any) *Error {
	return New(ErrInvalidReference, fmt.Sprintf(format, args...))
}

func Validation(format string, args ...any) *Error {
	return New(ErrValidationFailed, fmt.Sprintf(format, args...))
}

func AlreadyMerged(format string, args ...any) *Error {
	return New(ErrAlreadyMerged, fmt.Sprintf(format, args...))
}

// WithDetails attaches structured details rendered by the HTTP layer.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// Message returns the caller-facing message of err, or its text.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
