package cloud

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the bearer credential is rejected and the
// transparent refresh also fails. The cycle aborts as an auth error.
var ErrUnauthorized = errors.New("unauthorized")

// TransportError is a network-level failure (connection refused, timeout).
// Cycles hit by a transport error abort with the cursor unchanged.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteRejectionError is a well-formed error response from the endpoint
// (validation failure, server-side error). Treated like a transport error
// for cursor purposes but carries the server-provided message.
type RemoteRejectionError struct {
	Status  int
	Message string
}

func (e *RemoteRejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote rejected request with status %d", e.Status)
	}
	return fmt.Sprintf("remote rejected request with status %d: %s", e.Status, e.Message)
}
