// Package errs defines the structured error kinds shared by the backtest
// engine. Codes are stable across versions; messages are for humans.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an engine error for callers and for the persisted session row.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindDataUnavailable
	KindCacheTransient
	KindExternalTransient
	KindExternalFailure
	KindCancelled
	KindInternal
)

// Code returns the stable wire code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindDataUnavailable:
		return "DATA_UNAVAILABLE"
	case KindCacheTransient:
		return "CACHE_TRANSIENT"
	case KindExternalTransient:
		return "EXTERNAL_TRANSIENT"
	case KindExternalFailure:
		return "EXTERNAL_FAILURE"
	case KindCancelled:
		return "CANCELLED"
	case KindInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error carries a kind, a stable code and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation is shorthand for New(KindValidation, ...).
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

// KindOf extracts the kind from err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsCancelled reports whether err represents cooperative cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled || errors.Is(err, context.Canceled)
}
