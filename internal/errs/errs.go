// Package errs defines the typed error taxonomy used across the custody
// service: Input, State, Protocol, Resource, and Quorum kinds, each
// mapping to a fixed wire status code so the HTTP layer translates
// errors in one place rather than scattering status-code decisions
// through handlers.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the five abstract error classes the service reports.
type Kind string

const (
	Input    Kind = "input"
	State    Kind = "state"
	Protocol Kind = "protocol"
	Resource Kind = "resource"
	Quorum   Kind = "quorum"
)

// Error is a kind-tagged error carrying the detail string returned to
// callers in the {error_kind, detail} response body.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// ErrorKind satisfies the ErrorKind() string accessor logging and the
// HTTP layer use to report a stable error class.
func (e *Error) ErrorKind() string { return string(e.Kind) }

// New constructs a kind-tagged error with no wrapped cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs a kind-tagged error around an underlying cause,
// preserving errors.Is/errors.As compatibility via %w-style Unwrap.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error,
// defaulting to Resource for anything unclassified — an unexpected
// failure is treated as the most conservative, operator-actionable
// class rather than silently reported as client error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Resource
}

// HTTPStatus maps a Kind to its wire status code: 400/409/423/503/500.
// HSM-locked state is surfaced separately as 423 by callers
// that can distinguish it (see internal/httpapi), since State alone maps
// to 409 for other conflicts like "DKG in progress".
func HTTPStatus(kind Kind) int {
	switch kind {
	case Input:
		return http.StatusBadRequest
	case State:
		return http.StatusConflict
	case Protocol:
		return http.StatusConflict
	case Quorum:
		return http.StatusServiceUnavailable
	case Resource:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
