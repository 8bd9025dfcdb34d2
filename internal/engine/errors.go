// Package engine exposes the commands and queries the campaign dispatch
// system offers to its callers.
package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so a caller (or a worker recording an
// outcome) can branch on it without parsing a message string.
type ErrorKind string

const (
	KindValidation     ErrorKind = "VALIDATION"
	KindAuth           ErrorKind = "AUTH"
	KindNotFound       ErrorKind = "NOT_FOUND"
	KindPrecondition   ErrorKind = "PRECONDITION"
	KindQuotaExceeded  ErrorKind = "QUOTA_EXCEEDED"
	KindTransportSoft  ErrorKind = "TRANSPORT_SOFT"
	KindTransportHard  ErrorKind = "TRANSPORT_HARD"
	KindOutOfWindow    ErrorKind = "OUT_OF_WINDOW"
	KindStaleJob       ErrorKind = "STALE_JOB"
	KindInternal       ErrorKind = "INTERNAL"
)

// Error is the structured {kind, message} shape every exported command
// returns. Background workers never propagate this to a caller; they
// record it on the EmailLog row and log it with the job's correlation id.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Newf builds a structured error of the given kind.
func Newf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause, preserving it
// for logging via errors.Unwrap/errors.Is without leaking it to callers
// that only care about Kind.
func Wrap(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error,
// otherwise INTERNAL.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
