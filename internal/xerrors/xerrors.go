// Package xerrors provides the engine's error taxonomy.
//
// Every error surfaced at a query or write boundary carries one of a
// fixed set of kinds so callers can branch on "what went wrong" without
// parsing message strings.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind identifies the taxonomy bucket an error belongs to.
type Kind string

const (
	KindInvalidArgument    Kind = "INVALID_ARGUMENT"
	KindStorageUnavailable Kind = "STORAGE_UNAVAILABLE"
	KindSchemaMismatch     Kind = "SCHEMA_MISMATCH"
	KindManifestMissing    Kind = "MANIFEST_MISSING"
	KindManifestCorrupt    Kind = "MANIFEST_CORRUPT"
	KindIntegrityViolation Kind = "INTEGRITY_VIOLATION"
	KindNoUnderlying       Kind = "NO_UNDERLYING"
	KindCancelled          Kind = "CANCELLED"
	KindStorageBusy        Kind = "STORAGE_BUSY"
)

// Error is a taxonomy-tagged error with a stable kind and a human message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new taxonomy error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a new taxonomy error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf attaches a kind and formatted message to an underlying error.
func Wrapf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err, if err is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// Is reports whether err's kind matches k.
func Is(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

// InvalidArgument is a convenience constructor for the common kinds.
func InvalidArgument(format string, args ...interface{}) *Error {
	return Newf(KindInvalidArgument, format, args...)
}

// StorageUnavailable is a convenience constructor.
func StorageUnavailable(message string, err error) *Error {
	return Wrap(KindStorageUnavailable, message, err)
}

// NoUnderlying is a convenience constructor.
func NoUnderlying(symbol string, at string) *Error {
	return Newf(KindNoUnderlying, "no underlying bar at or before %s for %s", at, symbol)
}

// Cancelled wraps a context cancellation.
func Cancelled(err error) *Error {
	return Wrap(KindCancelled, "operation cancelled", err)
}

// Retryable reports whether err represents a condition the write path may
// retry internally (spec: only StorageBusy is retried; reads never retry).
func Retryable(err error) bool {
	return Is(err, KindStorageBusy)
}

// As is a re-export of errors.As for callers that only import xerrors.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap is a re-export of errors.Unwrap.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}
