package zaptec

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned by every fetch when the client holds no
// token or the token has expired. The client never re-authenticates on its
// own.
var ErrNotAuthenticated = errors.New("not authenticated or token expired")

// AuthenticationError is returned when the token endpoint rejects the
// credentials or answers with something that is not a token.
type AuthenticationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthenticationError) Error() string {
	msg := "authentication failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// RequestError is returned when a data endpoint fails or returns a payload
// that cannot be decoded. Op names the operation, e.g. "charge history page 3".
type RequestError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	msg := "failed to get " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
