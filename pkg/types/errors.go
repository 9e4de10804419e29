package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies persistence errors into the fixed taxonomy used
// across the service boundary.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindAuthorization    ErrorKind = "authorization"
	KindNotFound         ErrorKind = "not_found"
	KindStorage          ErrorKind = "storage"
	KindTransientStorage ErrorKind = "transient_storage"
	KindCodec            ErrorKind = "codec"
	KindConfig           ErrorKind = "config"
	KindOverloaded       ErrorKind = "overloaded"
	KindShutdown         ErrorKind = "shutdown"
)

// Error is the single error type crossing package boundaries. The Kind tag
// drives HTTP status mapping and retry decisions; Cause preserves the
// underlying error for errors.Is/As chains.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Kind, so callers can compare against
// sentinel kinds without caring about message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// NewError creates a tagged error without a cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a tagged error wrapping a cause.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from an error chain. Unclassified errors
// report as storage errors, the safe default at the service boundary.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Convenience constructors for the common kinds.

func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func AuthorizationError(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func StorageError(message string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: message, Cause: cause}
}

func TransientStorageError(message string, cause error) *Error {
	return &Error{Kind: KindTransientStorage, Message: message, Cause: cause}
}

func CodecError(message string, cause error) *Error {
	return &Error{Kind: KindCodec, Message: message, Cause: cause}
}

func ConfigError(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

func ShutdownError(message string) *Error {
	return &Error{Kind: KindShutdown, Message: message}
}
