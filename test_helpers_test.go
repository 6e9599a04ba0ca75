package tablechat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tablewire/tablechat-sdk/internal/proto"
	"github.com/tablewire/tablechat-sdk/token"
)

var errConnClosed = errors.New("fake conn closed")

// fakeConn is an in-process wireConn driven by the test as the "server".
type fakeConn struct {
	in     chan proto.Envelope // server -> client
	out    chan proto.Envelope // client -> server
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan proto.Envelope, 16),
		out:    make(chan proto.Envelope, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadEnvelope(ctx context.Context) (proto.Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case <-c.closed:
		return proto.Envelope{}, errConnClosed
	case <-ctx.Done():
		return proto.Envelope{}, ctx.Err()
	}
}

func (c *fakeConn) WriteEnvelope(ctx context.Context, env proto.Envelope) error {
	select {
	case c.out <- env:
		return nil
	case <-c.closed:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// send pushes a server frame to the client.
func (c *fakeConn) send(t *testing.T, frameType string, payload any) {
	t.Helper()
	env, err := proto.Encode(frameType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", frameType, err)
	}
	select {
	case c.in <- env:
	case <-time.After(2 * time.Second):
		t.Fatalf("server send %s blocked", frameType)
	}
}

// fakeDialer hands out fakeConns and can be told to refuse dials.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failures int
}

func (d *fakeDialer) dial(_ context.Context, _ string) (wireConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// waitConn blocks until the i-th connection has been dialed.
func (d *fakeDialer) waitConn(t *testing.T, i int) *fakeConn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		if len(d.conns) > i {
			c := d.conns[i]
			d.mu.Unlock()
			return c
		}
		d.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection %d never dialed", i)
	return nil
}

func testConfig() Config {
	return Config{
		DialTimeout:           time.Second,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:     20 * time.Millisecond,
		ReconnectAttempts:     3,
		HistoryTimeout:        150 * time.Millisecond,
		TypingIdle:            60 * time.Millisecond,
		TypingExpiry:          90 * time.Millisecond,
		EventBuffer:           256,
		OutboxBuffer:          64,
	}
}

var testIdentity = Identity{UserID: "u1", DisplayName: "Alice"}

func newTestSession(t *testing.T, id Identity) (*Session, *fakeDialer) {
	t.Helper()

	logger := zerolog.Nop()
	s := NewSession("ws://test", id, token.Static("tok-1"), &logger, testConfig())
	d := &fakeDialer{}
	s.dial = d.dial

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(s.Close)
	return s, d
}

// readySession connects and completes the registration handshake.
func readySession(t *testing.T) (*Session, *fakeDialer, *fakeConn) {
	t.Helper()

	s, d := newTestSession(t, testIdentity)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := d.waitConn(t, 0)
	ackRegister(t, s, conn)
	return s, d, conn
}

// ackRegister consumes the register frame and acknowledges it.
func ackRegister(t *testing.T, s *Session, conn *fakeConn) {
	t.Helper()
	env := nextFrame(t, conn)
	if env.Type != proto.TypeRegister {
		t.Fatalf("expected register frame first, got %s", env.Type)
	}
	var reg proto.RegisterData
	if err := proto.Decode(env, &reg); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	conn.send(t, proto.TypeRegistered, proto.RegisteredData{
		Success: true, UserID: reg.UserID, SocketID: "sock-1",
	})
	mustEvent(t, s, EventRegistered)
}

// joinRoomAcked joins a room and acknowledges it.
func joinRoomAcked(t *testing.T, s *Session, conn *fakeConn, room string) {
	t.Helper()
	if err := s.JoinRoom(room); err != nil {
		t.Fatalf("join %s: %v", room, err)
	}
	expectFrame(t, conn, proto.TypeJoinRoom)
	conn.send(t, proto.TypeJoinedRoom, proto.JoinedRoomData{RoomID: room, Success: true})
	mustEvent(t, s, EventRoomJoined)
}

// nextFrame returns the next client frame.
func nextFrame(t *testing.T, conn *fakeConn) proto.Envelope {
	t.Helper()
	select {
	case env := <-conn.out:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("expected client frame, got none")
		return proto.Envelope{}
	}
}

// expectFrame returns the next client frame and asserts its type.
func expectFrame(t *testing.T, conn *fakeConn, frameType string) proto.Envelope {
	t.Helper()
	env := nextFrame(t, conn)
	if env.Type != frameType {
		t.Fatalf("expected %s frame, got %s", frameType, env.Type)
	}
	return env
}

// noFrame asserts that no client frame arrives within d.
func noFrame(t *testing.T, conn *fakeConn, d time.Duration) {
	t.Helper()
	select {
	case env := <-conn.out:
		t.Fatalf("unexpected %s frame", env.Type)
	case <-time.After(d):
	}
}

// mustEvent waits for the next event of the given kind, skipping others.
func mustEvent(t *testing.T, s *Session, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("event stream closed waiting for %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event %v not received", kind)
		}
	}
}

// noEvent asserts no event of the given kind arrives within d.
func noEvent(t *testing.T, s *Session, kind EventKind, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return
			}
			if ev.Kind == kind {
				t.Fatalf("unexpected event %v", kind)
			}
		case <-deadline:
			return
		}
	}
}

func wireMessage(id, room, user, body string) proto.MessageData {
	return proto.MessageData{
		MessageID:   id,
		RoomID:      room,
		UserID:      user,
		DisplayName: user,
		Message:     body,
		Timestamp:   time.Now().UnixMilli(),
	}
}
