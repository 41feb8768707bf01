// Package errs defines the error taxonomy shared by the execution engine and
// its HTTP surface.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindDeviceTimeout     Kind = "DEVICE_TIMEOUT"
	KindDeviceUnavailable Kind = "DEVICE_UNAVAILABLE"
	KindActionFailed      Kind = "ACTION_FAILED"
)

// Machine-readable codes surfaced to callers.
const (
	CodeWorkstationOccupied = "WORKSTATION_OCCUPIED"
	CodeIPAddressMismatch   = "IP_ADDRESS_MISMATCH"
	CodeNoActiveSession     = "NO_ACTIVE_SESSION"
	CodeConnectionTimeout   = "CONNECTION_TIMEOUT"
	CodeDeviceNotFound      = "DEVICE_NOT_FOUND"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeSequenceCollision   = "SEQUENCE_COLLISION"
	CodeStepClaimed         = "STEP_CLAIMED"
)

// Error is the structured error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Op      string
	Msg     string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind (and Code when the target sets one).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// HTTPStatus maps the error kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		if e.Code == CodeIPAddressMismatch {
			return http.StatusForbidden
		}
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDeviceTimeout:
		if e.Code == CodeConnectionTimeout {
			return http.StatusRequestTimeout
		}
		return http.StatusGatewayTimeout
	case KindDeviceUnavailable:
		return http.StatusServiceUnavailable
	case KindActionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is checks.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrDeviceTimeout     = &Error{Kind: KindDeviceTimeout}
	ErrDeviceUnavailable = &Error{Kind: KindDeviceUnavailable}
	ErrActionFailed      = &Error{Kind: KindActionFailed}
)

// E builds an *Error of the given kind.
func E(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Validation returns a KindValidation error.
func Validation(op, format string, args ...any) *Error {
	return E(KindValidation, op, format, args...)
}

// NotFound returns a KindNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return E(KindNotFound, op, format, args...)
}

// Conflict returns a KindConflict error.
func Conflict(op, format string, args ...any) *Error {
	return E(KindConflict, op, format, args...)
}

// WithCode sets the machine-readable code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetails attaches caller-facing details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Wrap attaches a cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the Kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the Code of the first *Error in the chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus returns the status for any error; non-taxonomy errors are 500.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
