// Package apperr classifies failures so the HTTP layer can map them to a
// status code and a stable machine-readable kind.
package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	BadRequest         Kind = "BadRequest"
	NotFound           Kind = "NotFound"
	Expired            Kind = "Expired"
	Gone               Kind = "Gone"
	Forbidden          Kind = "Forbidden"
	QuotaExceeded      Kind = "QuotaExceeded"
	PayloadTooLarge    Kind = "PayloadTooLarge"
	ExceededQuota      Kind = "ExceededQuota"
	Invalid            Kind = "Invalid"
	Conflict           Kind = "Conflict"
	StorageUnavailable Kind = "StorageUnavailable"
	IOFailure          Kind = "IOFailure"
)

// Error carries a Kind, a client-facing message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error without a cause
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error that keeps err as its cause
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain.
// Unclassified errors are IOFailure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return IOFailure
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the client-facing message of err
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound, Invalid:
		return http.StatusNotFound
	case Expired, Gone:
		return http.StatusGone
	case Forbidden:
		return http.StatusForbidden
	case QuotaExceeded, ExceededQuota:
		return http.StatusTooManyRequests
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case Conflict:
		return http.StatusConflict
	case StorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
