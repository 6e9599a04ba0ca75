package tablechat

import (
	"time"

	"github.com/tablewire/tablechat-sdk/internal/proto"
)

// typingEntry tracks one remote user's typing state with its expiry timer.
// The table is keyed by room+user and cleaned up on room leave, so a lost
// final typing=false cannot leave a stale indicator behind.
type typingEntry struct {
	indicator TypingIndicator
	expiry    *time.Timer
}

func typingKey(room, user string) string {
	return room + "\x00" + user
}

// handleTypingInput debounces outgoing typing signals: typing=true is sent
// at most once per idle window, and the idle timer emits typing=false when
// the user stops producing input events.
func (s *Session) handleTypingInput(roomID string) {
	if s.state != StateConnected {
		return
	}

	if !s.typingSent[roomID] {
		s.typingSent[roomID] = true
		s.write(proto.TypeTyping, proto.TypingData{
			RoomID:      roomID,
			UserID:      s.identity.UserID,
			DisplayName: s.identity.DisplayName,
			IsTyping:    true,
		})
	}

	if t, ok := s.typingIdle[roomID]; ok {
		t.Stop()
	}
	s.typingIdle[roomID] = time.AfterFunc(s.cfg.TypingIdle, func() {
		s.post(command{kind: cmdTypingIdle, room: roomID})
	})
}

func (s *Session) handleTypingIdle(roomID string) {
	if !s.typingSent[roomID] {
		return
	}
	delete(s.typingSent, roomID)
	delete(s.typingIdle, roomID)

	if s.state != StateConnected {
		return
	}
	s.write(proto.TypeTyping, proto.TypingData{
		RoomID:      roomID,
		UserID:      s.identity.UserID,
		DisplayName: s.identity.DisplayName,
		IsTyping:    false,
	})
}

// handleUserTyping processes an inbound indicator. Indicators for the local
// user are ignored; typing=true arms a fresh expiry timer regardless of
// whether an explicit typing=false ever arrives.
func (s *Session) handleUserTyping(data proto.TypingData) {
	if data.UserID == s.identity.UserID {
		return
	}

	key := typingKey(data.RoomID, data.UserID)
	ind := TypingIndicator{
		Room:        data.RoomID,
		UserID:      data.UserID,
		DisplayName: data.DisplayName,
		IsTyping:    data.IsTyping,
	}

	s.mu.Lock()
	entry, exists := s.typing[key]
	if exists && entry.expiry != nil {
		entry.expiry.Stop()
	}
	if data.IsTyping {
		e := &typingEntry{indicator: ind}
		e.expiry = time.AfterFunc(s.cfg.TypingExpiry, func() {
			s.post(command{kind: cmdTypingExpire, room: data.RoomID, user: data.UserID})
		})
		s.typing[key] = e
	} else {
		if !exists {
			s.mu.Unlock()
			return
		}
		delete(s.typing, key)
	}
	s.mu.Unlock()

	s.emit(Event{Kind: EventTyping, Room: data.RoomID, Typing: ind})
}

// handleTypingExpire clears an indicator whose expiry window elapsed.
func (s *Session) handleTypingExpire(roomID, userID string) {
	key := typingKey(roomID, userID)

	s.mu.Lock()
	entry, ok := s.typing[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.typing, key)
	ind := entry.indicator
	ind.IsTyping = false
	s.mu.Unlock()

	s.emit(Event{Kind: EventTyping, Room: roomID, Typing: ind})
}

// stopTypingTimersForRoom cancels expiry and idle timers scoped to a room.
func (s *Session) stopTypingTimersForRoom(roomID string) {
	s.mu.Lock()
	for key, entry := range s.typing {
		if entry.indicator.Room != roomID {
			continue
		}
		if entry.expiry != nil {
			entry.expiry.Stop()
		}
		delete(s.typing, key)
	}
	s.mu.Unlock()

	if t, ok := s.typingIdle[roomID]; ok {
		t.Stop()
		delete(s.typingIdle, roomID)
	}
	delete(s.typingSent, roomID)
}

func (s *Session) stopAllTypingTimers() {
	s.mu.Lock()
	for key, entry := range s.typing {
		if entry.expiry != nil {
			entry.expiry.Stop()
		}
		delete(s.typing, key)
	}
	s.mu.Unlock()

	for room, t := range s.typingIdle {
		t.Stop()
		delete(s.typingIdle, room)
	}
	clear(s.typingSent)
}
