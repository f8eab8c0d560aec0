package domain

import (
	"errors"
	"fmt"
)

// Code tags every error a handler can return. Handlers return exactly one
// tagged error or a success payload, never both and never silence.
type Code string

const (
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	CodeDeadlineExceeded   Code = "DEADLINE_EXCEEDED"
	CodeInternal           Code = "INTERNAL"
)

// Error is the single error type crossing the app boundary.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// E builds a tagged error.
func E(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Errorf builds a tagged error with a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the tag from err. Untagged errors are infrastructure
// failures and map to Internal so implementation detail never leaks out.
func CodeOf(err error) Code {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given tag.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
