// Package cacheerr defines the platform's error taxonomy.
//
// Every operator-facing command returns {ok, error, detail?}, with the
// error field drawn from this package's stable string codes; internal
// errors travel as the Error type and compose with errors.Is/errors.As.
package cacheerr

import (
	"errors"
	"fmt"
)

// Code is a stable classification code surfaced in command responses.
type Code string

const (
	InvalidArgument    Code = "invalid_argument"
	NotFound           Code = "not_found"
	AlreadyExists      Code = "already_exists"
	QuotaExceeded      Code = "quota_exceeded"
	RateLimited        Code = "rate_limited"
	BackendUnavailable Code = "backend_unavailable"
	InvalidValue       Code = "invalid_value"
	Unavailable        Code = "unavailable"
	Conflict           Code = "conflict"
	Timeout            Code = "timeout"
	UnknownCommand     Code = "unknown_command"
	Internal           Code = "internal"
)

// Error carries a classification code, a message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, cacheerr.New(code, "")) match on Code alone,
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New builds an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error around an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts an error's classification code; non-*Error values
// classify as Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Sentinels for errors.Is matching by classification, independent of
// message.
var (
	ErrInvalidArgument    = New(InvalidArgument, "invalid argument")
	ErrNotFound           = New(NotFound, "not found")
	ErrAlreadyExists      = New(AlreadyExists, "already exists")
	ErrQuotaExceeded      = New(QuotaExceeded, "quota exceeded")
	ErrRateLimited        = New(RateLimited, "rate limited")
	ErrBackendUnavailable = New(BackendUnavailable, "backend unavailable")
	ErrInvalidValue       = New(InvalidValue, "invalid value")
	ErrUnavailable        = New(Unavailable, "unavailable")
	ErrConflict           = New(Conflict, "conflict")
	ErrTimeout            = New(Timeout, "timeout")
	ErrUnknownCommand     = New(UnknownCommand, "unknown command")
	ErrInternal           = New(Internal, "internal error")
)
