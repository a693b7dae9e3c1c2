package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the closed taxonomy of failures the core can surface. The FSM
// transition table and the recovery advisor consume kinds explicitly; raw
// internal errors never reach the user.
type ErrorKind string

const (
	// KindValidation: malformed or oversized input, rejected before any
	// dialogue state mutation.
	KindValidation ErrorKind = "validation"
	// KindRateLimit: request budget exhausted; carries a retry-after hint.
	KindRateLimit ErrorKind = "rate_limit"
	// KindNegationConflict: negation scope incompatible with the locked
	// intent; the user is re-prompted.
	KindNegationConflict ErrorKind = "negation_conflict"
	// KindDuplicateRequest: not a failure; resolved transparently by
	// returning the cached result.
	KindDuplicateRequest ErrorKind = "duplicate_request"
	// KindBusinessRule: insufficient balance, invalid account, and similar;
	// surfaced with concrete alternatives.
	KindBusinessRule ErrorKind = "business_rule"
	// KindSystem: transient external failure; safe to retry because the
	// idempotency key guarantees at-most-once side effects.
	KindSystem ErrorKind = "system"
	// KindTerminal: non-retryable; always audited, always accompanied by a
	// support-contact suggestion.
	KindTerminal ErrorKind = "terminal"
)

// Error is the structured error returned by core operations.
type Error struct {
	Kind    ErrorKind
	Message string

	// RetryAfter is set for rate-limit errors.
	RetryAfter time.Duration
	// Slot names the slot a correction should target, when known.
	Slot string

	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a structured error of the given kind.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a cause to a structured error of the given kind.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the taxonomy kind from an error chain. Unclassified errors
// map to KindSystem so that nothing escapes the taxonomy.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindSystem
}

// AsError returns the structured error in the chain, or wraps the error as a
// system error so callers always have one.
func AsError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: KindSystem, Message: "internal error", Cause: err}
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
