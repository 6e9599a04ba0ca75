package tablechat

// EventKind is a notification the session emits to the rendering surface.
type EventKind int

const (
	// EventStateChanged reports a ConnectionState transition.
	EventStateChanged EventKind = iota
	// EventRegistered reports the registration ack for the local identity.
	EventRegistered
	// EventRoomJoined reports a server join acknowledgement.
	EventRoomJoined
	// EventRoomLeft reports that a leave request was issued for a room.
	EventRoomLeft
	// EventMessage delivers a newly appended chat message.
	EventMessage
	// EventHistory delivers the history snapshot applied to a room.
	EventHistory
	// EventHistoryTimeout reports that the history wait ended with no snapshot.
	EventHistoryTimeout
	// EventTyping reports a typing indicator change for another user.
	EventTyping
	// EventPresence reports a user going online or offline.
	EventPresence
	// EventError surfaces an asynchronous session error.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventRegistered:
		return "registered"
	case EventRoomJoined:
		return "room_joined"
	case EventRoomLeft:
		return "room_left"
	case EventMessage:
		return "message"
	case EventHistory:
		return "history"
	case EventHistoryTimeout:
		return "history_timeout"
	case EventTyping:
		return "typing"
	case EventPresence:
		return "presence"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to the rendering surface to describe what happened.
// Fields are populated according to Kind.
type Event struct {
	Kind     EventKind
	State    ConnectionState
	Room     string
	Message  ChatMessage
	Messages []ChatMessage // for EventHistory
	Typing   TypingIndicator
	Presence Presence
	Err      *Error
}
