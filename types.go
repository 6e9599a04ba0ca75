package tablechat

import "time"

// Identity is the local user as registered with the chat server.
type Identity struct {
	UserID      string
	DisplayName string
}

func (id Identity) valid() bool {
	return id.UserID != ""
}

// ChatMessage is the domain model for a chat message.
// Ordering within a room is arrival order; the client never re-sorts.
type ChatMessage struct {
	ID          string
	Room        string
	UserID      string
	DisplayName string
	Body        string
	ImageURL    string
	Timestamp   time.Time
}

// TypingIndicator reports typing state for a user in a room. Ephemeral:
// incoming true indicators expire client-side even without a matching false.
type TypingIndicator struct {
	Room        string
	UserID      string
	DisplayName string
	IsTyping    bool
}

// Presence reports a user going online or offline.
type Presence struct {
	UserID      string
	DisplayName string
	Online      bool
	Timestamp   time.Time
}

// RestaurantRoom derives the room key for a restaurant conversation.
// No server round-trip is needed to compute it.
func RestaurantRoom(restaurantID string) string {
	return "restaurant-" + restaurantID
}
