package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Kind is a stable, machine-readable classification shared by every surface of
// the hub. The session layer maps kinds onto the wire envelope; background
// tasks use them to decide between "log and continue" and "reconnect".
type Kind string

const (
	// KindInvalidMessage marks a malformed JSON frame or an unknown action.
	KindInvalidMessage Kind = "invalid_message"

	// KindUnauthorized marks a missing or invalid token, or an ownership violation.
	KindUnauthorized Kind = "unauthorized"

	// KindNotFound marks an absent invoice, coin, price, or payment.
	KindNotFound Kind = "not_found"

	// KindNoRate marks a currency pair the converter cannot resolve in either direction.
	KindNoRate Kind = "no_rate"

	// KindStoreError marks a persistence I/O or deserialization failure.
	KindStoreError Kind = "store_error"

	// KindUpstreamError marks a blockbook WS or HTTP failure.
	KindUpstreamError Kind = "upstream_error"

	// KindTimeout marks any I/O that exceeded its budget.
	KindTimeout Kind = "timeout"
)

// Error carries a kind plus the user-visible message for the session envelope.
// The wrapped cause, when present, is for logs only and never reaches clients.
type Error struct {
	Kind    Kind
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

// New constructs an Error with a user-visible message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error with a formatted user-visible message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a kinded error. The message stays client-safe.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind from err. Unclassified errors map to KindTimeout
// when a deadline was exceeded, KindStoreError otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	return KindStoreError
}

// MessageOf extracts the user-visible message from err. Unclassified errors
// collapse to a generic message so internal details never leak to clients.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal error"
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
