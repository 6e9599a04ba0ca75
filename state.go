package tablechat

// ConnectionState represents the current state of the chat connection.
type ConnectionState int

const (
	// StateDisconnected means the session has no live connection.
	StateDisconnected ConnectionState = iota

	// StateConnecting means the session is dialing or redialing the server.
	StateConnecting

	// StateConnected means the transport is up and frames flow.
	StateConnected
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// phase tracks how far the connect -> register pipeline has progressed.
// Room frames only leave the session in phaseReady.
type phase int

const (
	phaseIdle phase = iota
	phaseConnecting
	phaseAwaitingRegistration
	phaseReady
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseConnecting:
		return "connecting"
	case phaseAwaitingRegistration:
		return "awaiting_registration"
	case phaseReady:
		return "ready"
	default:
		return "unknown"
	}
}
