package tablechat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tablewire/tablechat-sdk/internal/proto"
	"github.com/tablewire/tablechat-sdk/token"
)

// Session is the chat session for one user: it owns the connection, the
// registration handshake, the active-room set, per-room message logs,
// typing state and the presence roster. All mutable state is owned by a
// single event-processing goroutine; public methods post intents into it.
type Session struct {
	url      string
	identity Identity
	tokens   token.Provider
	cfg      Config
	log      *zerolog.Logger
	dial     dialFunc

	cmds     chan command
	events   chan Event
	done     chan struct{}
	loopDone chan struct{}

	// Loop-owned state, guarded by mu only so snapshot getters can read it.
	mu         sync.Mutex
	state      ConnectionState
	phase      phase
	registered bool
	rooms      map[string]*roomState
	online     map[string]Presence
	typing     map[string]*typingEntry
	opened     bool
	closed     bool

	connMgr   *connManager
	connGen   int
	authToken string

	typingSent map[string]bool
	typingIdle map[string]*time.Timer
}

// NewSession builds a session with constructor-injected collaborators.
// The identity may be empty; Connect then fails with ErrNotAuthenticated.
func NewSession(url string, identity Identity, tokens token.Provider, logger *zerolog.Logger, cfg Config) *Session {
	cfg.normalize()
	if tokens == nil {
		tokens = token.Static("")
	}
	return &Session{
		url:        url,
		identity:   identity,
		tokens:     tokens,
		cfg:        cfg,
		log:        logger,
		dial:       dialWebsocket,
		cmds:       make(chan command, 64),
		events:     make(chan Event, cfg.EventBuffer),
		done:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		rooms:      make(map[string]*roomState),
		online:     make(map[string]Presence),
		typing:     make(map[string]*typingEntry),
		typingSent: make(map[string]bool),
		typingIdle: make(map[string]*time.Timer),
	}
}

// Open starts the session's event loop. The context bounds the session
// lifetime: cancellation closes it.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	s.mu.Unlock()

	go s.run(ctx)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return nil
}

// Close leaves all rooms, tears down the connection and closes the event
// stream. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed || !s.opened {
		s.closed = true
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.post(command{kind: cmdClose})
	<-s.loopDone
}

// Events returns the multiplexed stream consumed by the rendering surface.
// The channel closes when the session closes.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Connect asks the session to establish the connection. Idempotent: a no-op
// when already connecting or connected. Transport failures are reported via
// the event stream, never returned here.
func (s *Session) Connect() error {
	if !s.identity.valid() {
		return ErrNotAuthenticated
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	s.post(command{kind: cmdConnect})
	return nil
}

// Disconnect closes the connection and resets registration and active-room
// state. Message logs survive; they simply stop updating.
func (s *Session) Disconnect() {
	s.post(command{kind: cmdDisconnect})
}

// JoinRoom requests membership in a room. Idempotent per room. While
// disconnected it triggers Connect and defers the join until the session
// is connected and registered; the intent is never dropped.
func (s *Session) JoinRoom(roomID string) error {
	if !s.identity.valid() {
		return ErrNotAuthenticated
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	s.post(command{kind: cmdJoin, room: roomID})
	return nil
}

// LeaveRoom sends a leave request and removes the room from the active set
// without waiting for an acknowledgement.
func (s *Session) LeaveRoom(roomID string) {
	s.post(command{kind: cmdLeave, room: roomID})
}

// Send sends a chat message to a room and returns the client-assigned
// message id. Fails with ErrNotConnected while the transport is down.
func (s *Session) Send(roomID, body string) (string, error) {
	return s.SendImage(roomID, body, "")
}

// SendImage sends a chat message carrying an uploaded image reference.
func (s *Session) SendImage(roomID, body, imageURL string) (string, error) {
	s.mu.Lock()
	state := s.state
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrSessionClosed
	}
	if state != StateConnected {
		return "", ErrNotConnected
	}

	id := uuid.NewString()
	s.post(command{kind: cmdSend, room: roomID, msg: proto.SendMessageData{
		MessageID:   id,
		RoomID:      roomID,
		UserID:      s.identity.UserID,
		DisplayName: s.identity.DisplayName,
		Message:     body,
		ImageURL:    imageURL,
	}})
	return id, nil
}

// NotifyTyping is called on every local input event. Outgoing signals are
// debounced; an idle timer emits typing=false when input stops.
func (s *Session) NotifyTyping(roomID string) {
	s.post(command{kind: cmdTypingInput, room: roomID})
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Registered reports whether the identity registration was acknowledged.
func (s *Session) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// Messages returns the ordered message log of a room.
func (s *Session) Messages(roomID string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]ChatMessage, len(rs.messages))
	copy(out, rs.messages)
	return out
}

// ActiveRooms returns rooms whose join was acknowledged and not yet left.
func (s *Session) ActiveRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, rs := range s.rooms {
		if rs.wanted && rs.active {
			out = append(out, id)
		}
	}
	return out
}

// RoomLoading reports whether a room is still awaiting its history snapshot.
func (s *Session) RoomLoading(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[roomID]
	return ok && rs.loading
}

// Online returns the presence roster as currently known.
func (s *Session) Online() []Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Presence, 0, len(s.online))
	for _, p := range s.online {
		out = append(out, p)
	}
	return out
}

// TypingUsers returns users currently marked as typing in a room.
func (s *Session) TypingUsers(roomID string) []TypingIndicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TypingIndicator
	for _, e := range s.typing {
		if e.indicator.Room == roomID {
			out = append(out, e.indicator)
		}
	}
	return out
}

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdDisconnect
	cmdClose
	cmdJoin
	cmdLeave
	cmdSend
	cmdTypingInput
	cmdTypingIdle
	cmdTypingExpire
	cmdHistoryTimeout
	cmdTokenReady
	cmdConnNote
)

type command struct {
	kind  cmdKind
	room  string
	user  string
	msg   proto.SendMessageData
	token string
	err   error
	note  connNote
	gen   int
}

// post delivers a command to the event loop, dropping it if the session
// is already shut down.
func (s *Session) post(c command) {
	select {
	case s.cmds <- c:
	case <-s.done:
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.loopDone)

	for {
		select {
		case c := <-s.cmds:
			if s.handle(ctx, c) {
				return
			}
		case <-ctx.Done():
			s.shutdown()
			return
		}
	}
}

// handle processes one command on the single event path. Returns true when
// the loop should exit.
func (s *Session) handle(ctx context.Context, c command) bool {
	switch c.kind {
	case cmdConnect:
		s.handleConnect(ctx)
	case cmdDisconnect:
		s.handleDisconnect()
	case cmdClose:
		s.shutdown()
		return true
	case cmdJoin:
		s.handleJoin(ctx, c.room)
	case cmdLeave:
		s.handleLeave(c.room)
	case cmdSend:
		s.handleSend(c.msg)
	case cmdTypingInput:
		s.handleTypingInput(c.room)
	case cmdTypingIdle:
		s.handleTypingIdle(c.room)
	case cmdTypingExpire:
		s.handleTypingExpire(c.room, c.user)
	case cmdHistoryTimeout:
		s.handleHistoryTimeout(c.room)
	case cmdTokenReady:
		s.handleTokenReady(c.token, c.err, c.gen)
	case cmdConnNote:
		s.handleConnNote(ctx, c.note, c.gen)
	}
	return false
}

func (s *Session) handleConnect(ctx context.Context) {
	if s.phase != phaseIdle {
		return
	}
	s.setState(StateConnecting)
	s.setPhase(phaseConnecting)
	s.startConn(ctx)
}

func (s *Session) startConn(ctx context.Context) {
	s.connGen++
	gen := s.connGen
	notify := func(n connNote) {
		s.post(command{kind: cmdConnNote, note: n, gen: gen})
	}
	s.connMgr = newConnManager(s.url, s.cfg, s.dial, s.log, notify)
	s.connMgr.start(ctx)
}

func (s *Session) stopConn() {
	if s.connMgr == nil {
		return
	}
	mgr := s.connMgr
	s.connMgr = nil
	s.connGen++ // stale notes are ignored from here on
	go mgr.stop()
}

func (s *Session) handleDisconnect() {
	s.stopConn()
	s.resetLinkState()
	s.setPhase(phaseIdle)
	s.setState(StateDisconnected)
}

// resetLinkState clears state owned by dependent components when the
// connection goes away: registration and room activity. Message logs and
// received-history flags survive.
func (s *Session) resetLinkState() {
	s.mu.Lock()
	s.registered = false
	for _, rs := range s.rooms {
		rs.active = false
		rs.pendingJoin = false
	}
	s.mu.Unlock()
	s.stopAllTypingTimers()
}

func (s *Session) handleConnNote(ctx context.Context, n connNote, gen int) {
	if gen != s.connGen {
		return
	}
	switch n.kind {
	case noteConnUp:
		s.setState(StateConnected)
		s.setPhase(phaseAwaitingRegistration)
		s.fetchToken(ctx, gen)
	case noteConnDown:
		s.mu.Lock()
		s.registered = false
		for _, rs := range s.rooms {
			rs.active = false
			rs.pendingJoin = false
		}
		s.mu.Unlock()
		s.setPhase(phaseConnecting)
		s.setState(StateConnecting)
	case noteConnFailed:
		s.log.Error().Err(n.err).Msg("connection failed terminally")
		s.connMgr = nil
		s.resetLinkState()
		s.setPhase(phaseIdle)
		s.setState(StateDisconnected)
		s.emit(Event{Kind: EventError, Err: sessionError(ErrCodeTransport, "connection lost")})
	case noteFrame:
		s.handleFrame(n.env)
	}
}

// fetchToken obtains the short-lived credential off the event loop and
// posts it back for the register frame.
func (s *Session) fetchToken(ctx context.Context, gen int) {
	go func() {
		tokenCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
		defer cancel()
		tok, err := s.tokens.Token(tokenCtx)
		s.post(command{kind: cmdTokenReady, token: tok, err: err, gen: gen})
	}()
}

func (s *Session) handleTokenReady(tok string, err error, gen int) {
	if gen != s.connGen || s.phase != phaseAwaitingRegistration {
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("token fetch failed")
		s.emit(Event{Kind: EventError, Err: sessionError(ErrCodeNotAuthenticated, "credential unavailable")})
		s.handleDisconnect()
		return
	}
	s.authToken = tok
	s.write(proto.TypeRegister, proto.RegisterData{
		UserID:      s.identity.UserID,
		DisplayName: s.identity.DisplayName,
		AuthToken:   tok,
	})
}

func (s *Session) handleSend(msg proto.SendMessageData) {
	if s.state != StateConnected {
		// Connection dropped between the caller's check and here; the send
		// is fire-and-forget, so it is logged and dropped.
		s.log.Warn().Str("room", msg.RoomID).Msg("send while disconnected, dropping")
		return
	}
	msg.AuthToken = s.authToken
	s.write(proto.TypeSendMessage, msg)
}

// write encodes and queues one frame on the current connection.
func (s *Session) write(frameType string, payload any) {
	if s.connMgr == nil {
		return
	}
	env, err := proto.Encode(frameType, payload)
	if err != nil {
		s.log.Error().Err(err).Str("frame", frameType).Msg("encode frame")
		return
	}
	s.connMgr.send(env)
}

func (s *Session) setState(st ConnectionState) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.emit(Event{Kind: EventStateChanged, State: st})
}

func (s *Session) setPhase(p phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// emit delivers an event to the rendering surface without blocking the
// event loop. Drops and logs on a slow consumer.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("event", ev.Kind.String()).Msg("event buffer full, dropping")
	}
}

func (s *Session) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	// Leave every room the UI still holds open.
	var leaving []string
	s.mu.Lock()
	connected := s.state == StateConnected
	for id, rs := range s.rooms {
		if rs.wanted {
			rs.wanted = false
			rs.active = false
			rs.pendingJoin = false
			s.cancelHistoryWait(rs)
			leaving = append(leaving, id)
		}
	}
	s.mu.Unlock()
	if connected {
		for _, id := range leaving {
			s.write(proto.TypeLeaveRoom, proto.LeaveRoomData{
				RoomID:    id,
				UserID:    s.identity.UserID,
				AuthToken: s.authToken,
			})
		}
	}
	s.stopAllTypingTimers()
	s.stopConn()
	s.setState(StateDisconnected)

	close(s.done)
	close(s.events)
}
