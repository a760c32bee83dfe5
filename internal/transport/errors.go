package transport

import (
	"errors"
	"fmt"
)

// Failure codes surfaced by both transport variants.
const (
	// CodeNetwork covers dial failures, timeouts and interrupted requests.
	CodeNetwork = "NetworkError"
	// CodeServer is a non-2xx backend reply; HTTPStatus carries the code.
	CodeServer = "ServerError"
	// CodeDisconnected is a dropped streaming socket.
	CodeDisconnected = "Disconnected"
	// CodeStaleConversation means the conversation id in a call does not
	// match the currently open conversation; the call fails closed.
	CodeStaleConversation = "StaleConversation"
)

// Error is a typed transport failure.
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("transport: %s - %s (http_status=%d)", e.Code, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("transport: %s - %s", e.Code, e.Message)
}

// AsError attempts to cast an error to *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsStale reports whether err is a StaleConversation failure.
func IsStale(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code == CodeStaleConversation
}

// IsDisconnected reports whether err is a socket-drop failure.
func IsDisconnected(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code == CodeDisconnected
}

// Recoverable reports whether the session may keep the conversation after
// this failure. Socket drops are fatal; request-level failures are not.
func Recoverable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	return e.Code == CodeNetwork || e.Code == CodeServer
}
