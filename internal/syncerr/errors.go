// ABOUTME: Error taxonomy for the sync core.
// ABOUTME: Kinds callers must distinguish, with retry classification and Retry-After hints.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind is a category of failure the caller must be able to distinguish.
type Kind string

const (
	DeviceNotConnected Kind = "device_not_connected"
	AuthFailed         Kind = "auth_failed"
	SyncFailed         Kind = "sync_failed"
	DataInvalid        Kind = "data_invalid"
	RateLimited        Kind = "rate_limited"
	PermissionDenied   Kind = "permission_denied"
	NetworkError       Kind = "network_error"
	UnknownError       Kind = "unknown_error"
)

// Error is a classified failure.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so errors.Is(err, &Error{Kind: RateLimited}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// New creates a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// RateLimitedAfter creates a RateLimited error carrying a Retry-After hint.
func RateLimitedAfter(op string, after time.Duration) *Error {
	return &Error{Kind: RateLimited, Op: op, Message: "vendor rate limit exceeded", RetryAfter: after}
}

// KindOf classifies any error. Unclassified errors are UnknownError; deadline and
// cancellation from a per-call timeout are NetworkError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NetworkError
	}
	return UnknownError
}

// RetryAfterOf returns the Retry-After hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsTransient reports whether the orchestrator retries this kind with backoff.
func IsTransient(k Kind) bool {
	return k == RateLimited || k == NetworkError || k == UnknownError
}

// RequiresReauth reports whether this kind disconnects the device.
func RequiresReauth(k Kind) bool {
	return k == AuthFailed || k == PermissionDenied
}

// Has reports whether err is classified as kind.
func Has(err error, kind Kind) bool {
	return KindOf(err) == kind
}
