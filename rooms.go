package tablechat

import (
	"context"
	"time"

	"github.com/tablewire/tablechat-sdk/internal/proto"
)

// roomState is the per-room record owned by the event loop.
type roomState struct {
	id string

	wanted      bool // UI intent to be in the room
	active      bool // server acknowledged the join
	pendingJoin bool // join frame sent, ack outstanding

	loading         bool
	historyReceived bool
	historyTimer    *time.Timer

	messages []ChatMessage
	seen     map[string]struct{}
}

func (s *Session) room(id string) *roomState {
	rs, ok := s.rooms[id]
	if !ok {
		rs = &roomState{id: id, seen: make(map[string]struct{})}
		s.rooms[id] = rs
	}
	return rs
}

func (s *Session) handleJoin(ctx context.Context, roomID string) {
	s.mu.Lock()
	rs := s.room(roomID)
	if rs.wanted && (rs.active || rs.pendingJoin) {
		s.mu.Unlock()
		return
	}
	rs.wanted = true
	s.mu.Unlock()

	switch s.phase {
	case phaseReady:
		s.sendJoin(rs)
	case phaseIdle:
		// Join while disconnected: connect first, the intent stays queued.
		s.handleConnect(ctx)
	default:
		// Connecting or awaiting registration; flushed on the registered ack.
	}
}

// sendJoin emits the join frame and arms the history wait. Only called in
// phaseReady: no join leaves the session before registration.
func (s *Session) sendJoin(rs *roomState) {
	s.mu.Lock()
	rs.pendingJoin = true
	armed := false
	if !rs.historyReceived && !rs.loading {
		rs.loading = true
		armed = true
	}
	s.mu.Unlock()

	if armed {
		roomID := rs.id
		rs.historyTimer = time.AfterFunc(s.cfg.HistoryTimeout, func() {
			s.post(command{kind: cmdHistoryTimeout, room: roomID})
		})
	}

	s.write(proto.TypeJoinRoom, proto.JoinRoomData{
		RoomID:    rs.id,
		UserID:    s.identity.UserID,
		AuthToken: s.authToken,
	})
}

func (s *Session) handleLeave(roomID string) {
	s.mu.Lock()
	rs, ok := s.rooms[roomID]
	if !ok || !rs.wanted {
		s.mu.Unlock()
		return
	}
	// Optimistic removal: the UI intent to leave is final regardless of
	// server confirmation.
	rs.wanted = false
	rs.active = false
	rs.pendingJoin = false
	s.cancelHistoryWait(rs)
	s.mu.Unlock()

	s.stopTypingTimersForRoom(roomID)

	if s.state == StateConnected {
		s.write(proto.TypeLeaveRoom, proto.LeaveRoomData{
			RoomID:    roomID,
			UserID:    s.identity.UserID,
			AuthToken: s.authToken,
		})
	}
	s.emit(Event{Kind: EventRoomLeft, Room: roomID})
}

// cancelHistoryWait stops the pending history timer. Caller holds mu.
func (s *Session) cancelHistoryWait(rs *roomState) {
	rs.loading = false
	if rs.historyTimer != nil {
		rs.historyTimer.Stop()
		rs.historyTimer = nil
	}
}

// flushRooms re-issues join frames for every room the UI wants, queued or
// previously active. Called when the session reaches phaseReady.
func (s *Session) flushRooms() {
	for _, rs := range s.rooms {
		if rs.wanted && !rs.active {
			s.sendJoin(rs)
		}
	}
}

// handleFrame dispatches one inbound frame from the transport.
func (s *Session) handleFrame(env proto.Envelope) {
	switch env.Type {
	case proto.TypeRegistered:
		var data proto.RegisteredData
		if err := proto.Decode(env, &data); err != nil {
			s.log.Warn().Err(err).Msg("bad registered frame")
			return
		}
		s.handleRegistered(data)
	case proto.TypeJoinedRoom:
		var data proto.JoinedRoomData
		if err := proto.Decode(env, &data); err != nil {
			s.log.Warn().Err(err).Msg("bad joined-room frame")
			return
		}
		s.handleJoinedRoom(data)
	case proto.TypeNewMessage:
		var data proto.MessageData
		if err := proto.Decode(env, &data); err != nil {
			s.log.Warn().Err(err).Msg("bad new-message frame")
			return
		}
		s.handleNewMessage(data)
	case proto.TypeMessageHistory:
		var data proto.HistoryData
		if err := proto.Decode(env, &data); err != nil {
			s.log.Warn().Err(err).Msg("bad history frame")
			return
		}
		s.handleHistory(data)
	case proto.TypeUserTyping:
		var data proto.TypingData
		if err := proto.Decode(env, &data); err != nil {
			s.log.Warn().Err(err).Msg("bad user-typing frame")
			return
		}
		s.handleUserTyping(data)
	case proto.TypeUserOnline, proto.TypeUserOffline:
		var data proto.PresenceData
		if err := proto.Decode(env, &data); err != nil {
			s.log.Warn().Err(err).Msg("bad presence frame")
			return
		}
		s.handlePresence(data, env.Type == proto.TypeUserOnline)
	default:
		s.log.Debug().Str("frame", env.Type).Msg("ignoring unknown frame")
	}
}

func (s *Session) handleRegistered(data proto.RegisteredData) {
	if s.phase != phaseAwaitingRegistration {
		return
	}
	if !data.Success {
		s.log.Error().Str("user", data.UserID).Msg("registration rejected")
		s.emit(Event{Kind: EventError, Err: sessionError(ErrCodeNotRegistered, "registration rejected")})
		return
	}

	s.mu.Lock()
	s.registered = true
	s.mu.Unlock()
	s.setPhase(phaseReady)
	s.log.Info().Str("user", s.identity.UserID).Str("socket", data.SocketID).Msg("registered")
	s.emit(Event{Kind: EventRegistered})
	s.flushRooms()
}

func (s *Session) handleJoinedRoom(data proto.JoinedRoomData) {
	s.mu.Lock()
	rs, ok := s.rooms[data.RoomID]
	if !ok || !rs.wanted {
		s.mu.Unlock()
		return
	}
	rs.pendingJoin = false
	if !data.Success {
		rs.wanted = false
		s.cancelHistoryWait(rs)
		s.mu.Unlock()
		s.emit(Event{Kind: EventError, Room: data.RoomID,
			Err: sessionError(ErrCodeNotRegistered, "join rejected")})
		return
	}
	already := rs.active
	rs.active = true
	s.mu.Unlock()

	if !already {
		s.emit(Event{Kind: EventRoomJoined, Room: data.RoomID})
	}
}

func (s *Session) handleNewMessage(data proto.MessageData) {
	s.mu.Lock()
	rs, ok := s.rooms[data.RoomID]
	if !ok || !rs.wanted {
		s.mu.Unlock()
		return
	}
	if _, dup := rs.seen[data.MessageID]; dup {
		s.mu.Unlock()
		return
	}
	msg := messageFromWire(data)
	rs.seen[data.MessageID] = struct{}{}
	rs.messages = append(rs.messages, msg)
	s.mu.Unlock()

	s.emit(Event{Kind: EventMessage, Room: data.RoomID, Message: msg})
}

// handleHistory applies the one-time snapshot: it replaces the room's log,
// cancels the timeout and marks history as received for this room.
func (s *Session) handleHistory(data proto.HistoryData) {
	s.mu.Lock()
	rs, ok := s.rooms[data.RoomID]
	if !ok || !rs.wanted {
		s.mu.Unlock()
		return
	}
	s.cancelHistoryWait(rs)
	rs.historyReceived = true

	rs.messages = make([]ChatMessage, 0, len(data.Messages))
	rs.seen = make(map[string]struct{}, len(data.Messages))
	for _, m := range data.Messages {
		if _, dup := rs.seen[m.MessageID]; dup {
			continue
		}
		rs.seen[m.MessageID] = struct{}{}
		rs.messages = append(rs.messages, messageFromWire(m))
	}
	snapshot := make([]ChatMessage, len(rs.messages))
	copy(snapshot, rs.messages)
	s.mu.Unlock()

	s.emit(Event{Kind: EventHistory, Room: data.RoomID, Messages: snapshot})
}

// handleHistoryTimeout ends the bounded wait: the room is treated as having
// no history rather than blocking the UI. Not an error condition.
func (s *Session) handleHistoryTimeout(roomID string) {
	s.mu.Lock()
	rs, ok := s.rooms[roomID]
	if !ok || !rs.loading {
		s.mu.Unlock()
		return
	}
	rs.loading = false
	rs.historyTimer = nil
	s.mu.Unlock()

	s.log.Debug().Str("room", roomID).Msg("history wait timed out")
	s.emit(Event{Kind: EventHistoryTimeout, Room: roomID})
}

func (s *Session) handlePresence(data proto.PresenceData, online bool) {
	p := Presence{
		UserID:      data.UserID,
		DisplayName: data.DisplayName,
		Online:      online,
		Timestamp:   time.UnixMilli(data.Timestamp),
	}
	s.mu.Lock()
	if online {
		s.online[data.UserID] = p
	} else {
		delete(s.online, data.UserID)
	}
	s.mu.Unlock()

	s.emit(Event{Kind: EventPresence, Presence: p})
}

func messageFromWire(m proto.MessageData) ChatMessage {
	return ChatMessage{
		ID:          m.MessageID,
		Room:        m.RoomID,
		UserID:      m.UserID,
		DisplayName: m.DisplayName,
		Body:        m.Message,
		ImageURL:    m.ImageURL,
		Timestamp:   time.UnixMilli(m.Timestamp),
	}
}
