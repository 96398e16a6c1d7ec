package transport

import (
	"errors"
	"fmt"
)

// AuthError means the transport's credentials were rejected or its session
// expired. The coordinator reauthenticates once and retries; a second failure
// escalates to entry-level reauthentication.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: authentication failed", e.Op)
	}
	return fmt.Sprintf("%s: authentication failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectionError covers timeouts, refused connections and I/O failures. The
// affected device is marked errored and retried next cycle.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DecodingError means the transport returned a payload that could not be
// decoded. Recovery is the same as for connection failures; the extra detail
// is for the logs.
type DecodingError struct {
	Op  string
	Err error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("%s: malformed payload: %v", e.Op, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsConnection reports whether err is (or wraps) a ConnectionError.
func IsConnection(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsDecoding reports whether err is (or wraps) a DecodingError.
func IsDecoding(err error) bool {
	var decErr *DecodingError
	return errors.As(err, &decErr)
}
