package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Base error types
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnavailable      = errors.New("upstream unavailable")
	ErrNotEntitled      = errors.New("not entitled")
	ErrInternalError    = errors.New("internal error")
)

// Kind represents the category of an entitlement error.
type Kind string

const (
	KindInput        Kind = "input"
	KindAuthenticity Kind = "authenticity"
	KindUnavailable  Kind = "unavailable"
	KindNotEntitled  Kind = "not_entitled"
	KindUnexpected   Kind = "unexpected"
)

// Error is a structured error for entitlement operations.
type Error struct {
	Kind Kind
	Op   string // Operation that failed (e.g., "cache.get", "stripe.list_subscriptions")
	Err  error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps the error kind onto the package sentinels so callers can use errors.Is.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrInvalidInput:
		return e.Kind == KindInput
	case ErrInvalidSignature:
		return e.Kind == KindAuthenticity
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrNotEntitled:
		return e.Kind == KindNotEntitled
	case ErrInternalError:
		return e.Kind == KindUnexpected
	}

	return errors.Is(e.Err, target)
}

// New creates a new Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Input wraps a malformed-request error.
func Input(op string, err error) error {
	return New(KindInput, op, err)
}

// Authenticity wraps a bad signature or forged token error.
func Authenticity(op string, err error) error {
	return New(KindAuthenticity, op, err)
}

// Unavailable wraps a store or provider failure. It must never be read as "not entitled".
func Unavailable(op string, err error) error {
	return New(KindUnavailable, op, err)
}

// NotEntitled marks a resolved negative.
func NotEntitled(op string, err error) error {
	return New(KindNotEntitled, op, err)
}

// Unexpected wraps anything else.
func Unexpected(op string, err error) error {
	return New(KindUnexpected, op, err)
}

// KindOf returns the kind of err. Unclassified non-nil errors are unexpected.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInput
	case errors.Is(err, ErrInvalidSignature):
		return KindAuthenticity
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrNotEntitled):
		return KindNotEntitled
	}
	return KindUnexpected
}

// IsUnavailable reports whether err is an upstream/store availability failure.
func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}

// IsRetryableError checks if the caller should retry the request later.
func IsRetryableError(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindUnexpected:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error kind to the status code returned to clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindInput, KindAuthenticity:
		return http.StatusBadRequest
	case KindNotEntitled:
		return http.StatusOK
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
