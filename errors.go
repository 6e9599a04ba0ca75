package tablechat

import "errors"

// Error codes for session errors.
const (
	ErrCodeNotAuthenticated = "not_authenticated"
	ErrCodeNotConnected     = "not_connected"
	ErrCodeNotRegistered    = "not_registered"
	ErrCodeSessionClosed    = "session_closed"
	ErrCodeHistoryTimeout   = "history_timeout"
	ErrCodeTransport        = "transport_error"
)

var (
	ErrNotAuthenticated = errors.New("no local identity")
	ErrNotConnected     = errors.New("not connected")
	ErrNotRegistered    = errors.New("not registered")
	ErrSessionClosed    = errors.New("session closed")
)

// Error wraps a code and human-readable message for asynchronous surfacing.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func sessionError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}
