package provider

import (
	"errors"
	"fmt"
)

// Failure kinds. Each BackendError matches exactly one of these with
// errors.Is, and its message starts with the kind's text.
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrAuthentication  = errors.New("authentication failed")
	ErrConnection      = errors.New("connection failed")
	ErrAPI             = errors.New("api error")
	ErrUnknown         = errors.New("unexpected error")
	ErrTimeout         = errors.New("backend timed out")
	ErrCommandNotFound = errors.New("backend command not found")
	ErrCommandFailed   = errors.New("backend command failed")
	ErrMissingParam    = errors.New("missing backend parameter")
)

// BackendError is a classified backend failure.
type BackendError struct {
	Kind    error
	Status  int // HTTP status, 0 when not applicable
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	msg := e.Kind.Error()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (%d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *BackendError) Is(target error) bool { return target == e.Kind }

func (e *BackendError) Unwrap() error { return e.Err }

func newError(kind error, status int, message string, err error) *BackendError {
	return &BackendError{Kind: kind, Status: status, Message: message, Err: err}
}
