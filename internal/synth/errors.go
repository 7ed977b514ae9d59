package synth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a synthesis failure
type ErrorKind string

const (
	// KindInvalidRequest means the request was malformed or rejected as such
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindNetwork means the request could not reach the endpoint
	KindNetwork ErrorKind = "network"

	// KindTimeout means the request exceeded the per-request timeout
	KindTimeout ErrorKind = "timeout"

	// KindServer means the endpoint answered with a non-200 status
	KindServer ErrorKind = "server"
)

// Error is a typed synthesis failure. StatusCode is set for KindServer
// and KindInvalidRequest responses.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("synthesis %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("synthesis %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError unwraps err into a synthesis Error if possible
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsKind reports whether err is a synthesis Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	se, ok := AsError(err)
	return ok && se.Kind == kind
}
