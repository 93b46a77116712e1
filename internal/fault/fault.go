// Package fault defines the structured error kinds surfaced by the
// simulation core.
//
// The core distinguishes exactly two recoverable failure categories:
//
//   - InvalidArgument: the caller supplied input the core refuses to
//     coerce (non-positive clock scale, negative advance delta,
//     malformed recurrence rule, unknown sort key).
//   - NotFound: the caller referenced an entity id that does not exist
//     (mark-read on an unknown message, lookup of an unknown thread).
//
// Every failure is a deterministic function of its input; nothing in the
// core is retried internally. Callers translate the Kind into their own
// transport-level response.
package fault

import (
	"errors"
	"fmt"
)

// Kind categorizes core errors.
type Kind string

const (
	// KindInvalidArgument indicates input the core refuses to accept.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"

	// KindNotFound indicates a reference to a nonexistent entity.
	KindNotFound Kind = "NOT_FOUND"
)

// Error is a structured core error with a machine-readable Kind.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// InvalidArgumentf builds an InvalidArgument error with a formatted message.
func InvalidArgumentf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NotFound error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// IsInvalidArgument reports whether err is an InvalidArgument error.
// Uses errors.As to handle wrapped errors.
func IsInvalidArgument(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == KindInvalidArgument
	}
	return false
}

// IsNotFound reports whether err is a NotFound error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == KindNotFound
	}
	return false
}
