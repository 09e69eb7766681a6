// Package apperr defines the error taxonomy shared by every service surface.
//
// Domain packages declare sentinel errors with the constructors below and
// wrap them with fmt.Errorf("%w: ...") when more context is needed. HTTP
// handlers translate any error chain back to a status code through Kind.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindForbidden            Kind = "forbidden"
	KindInsufficientResource Kind = "insufficient_resource"
	KindUpstream             Kind = "upstream"
	KindInternal             Kind = "internal"
)

// Error is a classified application error.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Details   map[string]string
	Retryable bool
	Timeout   bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinel errors by kind and code so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithDetails returns a copy of e carrying field level details.
func (e *Error) WithDetails(details map[string]string) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func Forbidden(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

func InsufficientResource(code, message string) *Error {
	return &Error{Kind: KindInsufficientResource, Code: code, Message: message}
}

func Internal(code, message string) *Error {
	return &Error{Kind: KindInternal, Code: code, Message: message}
}

// Retryable marks a failed remote call that may succeed if attempted again.
func Retryable(service string, cause error) *Error {
	return &Error{
		Kind:      KindUpstream,
		Code:      "UPSTREAM_UNAVAILABLE",
		Message:   service + " unavailable",
		Retryable: true,
		Cause:     cause,
	}
}

// Fatal marks a failed remote call that will fail the same way on retry.
func Fatal(service string, cause error) *Error {
	return &Error{
		Kind:    KindUpstream,
		Code:    "UPSTREAM_REJECTED",
		Message: service + " rejected the request",
		Cause:   cause,
	}
}

// Timeout marks a remote call that exceeded its deadline. Timeouts are retryable.
func Timeout(service string, cause error) *Error {
	return &Error{
		Kind:      KindUpstream,
		Code:      "UPSTREAM_TIMEOUT",
		Message:   service + " timed out",
		Retryable: true,
		Timeout:   true,
		Cause:     cause,
	}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err (or anything it wraps) is a retryable upstream failure.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}
