// Package apperr defines the error taxonomy shared by the store, the browser
// controller, the portal driver and the session manager, and maps each kind
// onto an HTTP status.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	Validation         Kind = "validation"
	NotFound           Kind = "not_found"
	InvalidState       Kind = "invalid_state_transition"
	BrowserAcquisition Kind = "browser_acquisition"
	AcquisitionTimeout Kind = "acquisition_timeout"
	Extraction         Kind = "extraction"
	Persistence        Kind = "persistence"
	Internal           Kind = "internal"
)

// Error is a classified error. Cause is preserved for errors.Is/As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message != "" {
		return e.Message + ": " + e.Cause.Error()
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies cause. A nil cause yields nil.
func Wrap(kind Kind, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Internal when none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether any classified error in err's chain has the given kind.
// AcquisitionTimeout also matches BrowserAcquisition.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind || (kind == BrowserAcquisition && e.Kind == AcquisitionTimeout) {
			return true
		}
		err = e.Cause
	}
	return false
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case InvalidState:
		return http.StatusConflict
	case BrowserAcquisition, AcquisitionTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
