// Package kirinerr declares the error-kind taxonomy the HTTP intake layer
// and merge pipeline use to decide status codes and retry behavior.
package kirinerr

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// Kind tags an error with the handling it requires: bad caller input, a
// dated trip that cannot be resolved, a violated internal invariant, a
// structured domain error, or an undecodable intake payload.
type Kind string

const (
	KindInvalidArguments Kind = "invalid_arguments"
	KindObjectNotFound   Kind = "object_not_found"
	KindInternal         Kind = "internal_exception"
	KindKirinException   Kind = "kirin_exception"
	KindDecodeError      Kind = "decode_error"
)

// HTTPStatus maps a Kind to the status code the intake endpoints respond
// with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidArguments, KindDecodeError:
		return 400
	case KindObjectNotFound:
		return 404
	default:
		return 500
	}
}

// Error is a kirin-domain error: a Kind, a human message, and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
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

// New builds a bare kirin error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind and message to an existing error, preserving it
// as the stack-annotated cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: pkgerrors.WithStack(cause)}
}

func InvalidArguments(format string, args ...any) *Error {
	return New(KindInvalidArguments, fmt.Sprintf(format, args...))
}

func ObjectNotFound(format string, args ...any) *Error {
	return New(KindObjectNotFound, fmt.Sprintf(format, args...))
}

func Internal(cause error, format string, args ...any) *Error {
	return Wrap(KindInternal, cause, fmt.Sprintf(format, args...))
}

func DecodeError(cause error, format string, args ...any) *Error {
	return Wrap(KindDecodeError, cause, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether err is a transient connection error worth
// retrying with a bounded delay: network dial/timeout/refused errors
// from the lock, catalog and storage clients. Anything else surfaces.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	return false
}
