package chatclient

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Conn.Emit when there is no live
	// connection. Callers fall back to the REST path; emits are never
	// silently dropped.
	ErrNotConnected = errors.New("chatclient: not connected")
	// ErrClosed is returned after Conn.Disconnect.
	ErrClosed = errors.New("chatclient: connection closed")
	// ErrTimeout marks a REST call that hit its deadline.
	ErrTimeout = errors.New("chatclient: request timed out")
	// ErrUnauthorized maps HTTP 401.
	ErrUnauthorized = errors.New("chatclient: unauthorized")
	// ErrForbidden maps HTTP 403 (thread not owned by caller). Never
	// retried automatically.
	ErrForbidden = errors.New("chatclient: forbidden")
	// ErrSendFailed marks a send whose delivery attempt was rejected;
	// the optimistic entry has been rolled back.
	ErrSendFailed = errors.New("chatclient: message not sent")
	// ErrNoActiveThread is returned by store operations before Open.
	ErrNoActiveThread = errors.New("chatclient: no active thread")
)

// APIError is a non-2xx REST response that maps to no sentinel.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatclient: api status %d: %s", e.Status, e.Message)
}
