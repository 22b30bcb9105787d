package client

import (
	"errors"
	"fmt"
)

var (
	// ErrBadConfig is returned by New when host or port are unusable.
	ErrBadConfig = errors.New("tntqueue: bad config")

	// ErrZeroTuple means the server answered with no task row where
	// one was expected, e.g. put produced nothing.
	ErrZeroTuple = errors.New("tntqueue: zero tuple")

	ErrInvalidConnector = errors.New("tntqueue: connector must implement Connect")
	ErrInvalidLocker    = errors.New("tntqueue: locker must implement Lock and Unlock")
)

// DatabaseError is a request rejected by the Tarantool server,
// e.g. acking a task which was already deleted.
type DatabaseError struct {
	Code uint32
	Msg  string
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("%s (0x%x)", e.Msg, e.Code)
}

// NetworkError wraps any failure to reach the server or to
// complete a request on the wire.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsDatabaseError reports whether err carries a server-side rejection.
func IsDatabaseError(err error) bool {
	var de *DatabaseError
	return errors.As(err, &de)
}

// IsNetworkError reports whether err is a connectivity failure.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
