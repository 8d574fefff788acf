package apperr

import (
	"errors"
	"fmt"

	"github.com/valyala/fasthttp"
)

// Type names one class of failure surfaced to clients.
type Type string

const (
	TypeValidation        Type = "validation"
	TypeNotFound          Type = "not_found"
	TypeAuthorization     Type = "authorization"
	TypeConflict          Type = "conflict"
	TypeSelfConnection    Type = "self_connection"
	TypeBrokerUnavailable Type = "broker_unavailable"
	TypeInternal          Type = "internal"
)

// Error is a typed failure with a client-facing message and the HTTP status
// used when it leaves through the REST surface.
type Error struct {
	Type    Type
	Message string
	Code    int
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same Type, so errors.Is(err, ErrNotFound)
// holds for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// Predefined errors, usable both as sentinels and as generic responses.
var (
	ErrValidation        = &Error{TypeValidation, "invalid request", fasthttp.StatusBadRequest}
	ErrNotFound          = &Error{TypeNotFound, "not found", fasthttp.StatusNotFound}
	ErrAuthorization     = &Error{TypeAuthorization, "not authorized", fasthttp.StatusForbidden}
	ErrConflict          = &Error{TypeConflict, "conflict", fasthttp.StatusConflict}
	ErrSelfConnection    = &Error{TypeSelfConnection, "cannot connect to yourself", fasthttp.StatusBadRequest}
	ErrBrokerUnavailable = &Error{TypeBrokerUnavailable, "broker unavailable", fasthttp.StatusServiceUnavailable}
	ErrInternal          = &Error{TypeInternal, "internal error", fasthttp.StatusInternalServerError}
)

func Validation(format string, args ...any) *Error {
	return &Error{TypeValidation, fmt.Sprintf(format, args...), fasthttp.StatusBadRequest}
}

func NotFound(format string, args ...any) *Error {
	return &Error{TypeNotFound, fmt.Sprintf(format, args...), fasthttp.StatusNotFound}
}

func Authorization(format string, args ...any) *Error {
	return &Error{TypeAuthorization, fmt.Sprintf(format, args...), fasthttp.StatusForbidden}
}

func Conflict(format string, args ...any) *Error {
	return &Error{TypeConflict, fmt.Sprintf(format, args...), fasthttp.StatusConflict}
}

// As extracts an *Error. Anything else becomes ErrInternal so the cause
// never leaks to the client.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal
}
