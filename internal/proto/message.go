package proto

import (
	"encoding/json"
	"fmt"
)

// Envelope wraps every frame on the wire in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	// Client -> server.
	TypeRegister    = "register"
	TypeJoinRoom    = "join-room"
	TypeLeaveRoom   = "leave-room"
	TypeSendMessage = "send-message"
	TypeTyping      = "typing"

	// Server -> client.
	TypeRegistered     = "registered"
	TypeJoinedRoom     = "joined-room"
	TypeNewMessage     = "new-message"
	TypeMessageHistory = "message-history"
	TypeUserTyping     = "user-typing"
	TypeUserOnline     = "user-online"
	TypeUserOffline    = "user-offline"
)

// RegisterData binds the connection to a user identity after connect.
type RegisterData struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AuthToken   string `json:"authToken,omitempty"`
}

// JoinRoomData requests membership in a room.
type JoinRoomData struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	AuthToken string `json:"authToken,omitempty"`
}

// LeaveRoomData requests leaving a room.
type LeaveRoomData struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	AuthToken string `json:"authToken,omitempty"`
}

// SendMessageData carries outgoing chat content.
type SendMessageData struct {
	MessageID   string `json:"messageId"`
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Message     string `json:"message"`
	ImageURL    string `json:"imageUrl,omitempty"`
	AuthToken   string `json:"authToken,omitempty"`
}

// TypingData signals typing state in both directions.
type TypingData struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
}

// RegisteredData acknowledges a register request.
type RegisteredData struct {
	Success  bool   `json:"success"`
	UserID   string `json:"userId"`
	SocketID string `json:"socketId,omitempty"`
}

// JoinedRoomData acknowledges a join-room request.
type JoinedRoomData struct {
	RoomID  string `json:"roomId"`
	Success bool   `json:"success"`
}

// MessageData is a chat message as delivered by the server, live or in history.
type MessageData struct {
	MessageID   string `json:"messageId"`
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Message     string `json:"message"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// HistoryData is the one-time snapshot replayed after a room join.
type HistoryData struct {
	RoomID   string        `json:"roomId"`
	Messages []MessageData `json:"messages"`
}

// PresenceData announces a user going online or offline.
type PresenceData struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Timestamp   int64  `json:"timestamp"`
}

// Encode marshals a payload into an envelope of the given type.
func Encode(frameType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", frameType, err)
	}
	return Envelope{Type: frameType, Data: data}, nil
}

// Decode unmarshals an envelope's payload into dst.
func Decode(env Envelope, dst any) error {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}
