package domains

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies every failure the API can report.
type Kind string

const (
	KindUnauthenticated       Kind = "unauthenticated"
	KindUnauthorized          Kind = "unauthorized"
	KindValidationFailed      Kind = "validation_failed"
	KindConflict              Kind = "conflict"
	KindNotFound              Kind = "not_found"
	KindPayloadTooLarge       Kind = "payload_too_large"
	KindRateLimited           Kind = "rate_limited"
	KindConfigurationError    Kind = "configuration_error"
	KindDependencyUnavailable Kind = "dependency_unavailable"
	KindTimeout               Kind = "timeout"
	KindCancelled             Kind = "cancelled"
	KindInternal              Kind = "internal"
)

// Error is the only error type handlers turn into responses. Message is safe
// to show a caller; Cause is for logs only.
type Error struct {
	Kind    Kind
	Field   string
	Reason  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// ValidationFailed reports a rejected field. The message is built from the
// field name and reason only; the offending value is never included.
func ValidationFailed(field, reason string) *Error {
	return &Error{
		Kind:    KindValidationFailed,
		Field:   field,
		Reason:  reason,
		Message: field + " " + reason,
	}
}

func Unauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Message: "authentication required"}
}

func Unauthorized() *Error {
	return &Error{Kind: KindUnauthorized, Message: "administrator access required"}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func PayloadTooLarge(message string) *Error {
	return &Error{Kind: KindPayloadTooLarge, Message: message}
}

func RateLimited(operation string) *Error {
	return &Error{Kind: KindRateLimited, Message: "too many concurrent " + operation + " requests, try again later"}
}

func ConfigurationError(message string) *Error {
	return &Error{Kind: KindConfigurationError, Message: message}
}

func DependencyUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindDependencyUnavailable, Message: message, Cause: cause}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Cause: cause}
}

// FromContext classifies a context error, or returns nil when err is not one.
func FromContext(err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Message: "request cancelled", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "operation timed out", Cause: err}
	}
	return nil
}

// As extracts a *Error, wrapping anything unclassified as Internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if ce := FromContext(err); ce != nil {
		return ce
	}
	return Internal(err)
}

func IsKind(err error, kind Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
