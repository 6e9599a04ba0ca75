package tablechat

import (
	"fmt"
	"testing"
	"time"

	"github.com/tablewire/tablechat-sdk/internal/proto"
)

func TestJoinIdempotentPerRoom(t *testing.T) {
	s, _, conn := readySession(t)

	if err := s.JoinRoom("restaurant-1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.JoinRoom("restaurant-1"); err != nil {
		t.Fatalf("second join: %v", err)
	}

	expectFrame(t, conn, proto.TypeJoinRoom)
	noFrame(t, conn, 80*time.Millisecond)
}

// Duplicate deliveries of the same messageId must append exactly once, in
// first-arrival order. Covers the reconnect echo window.
func TestDuplicateMessagesAppendOnce(t *testing.T) {
	s, _, conn := readySession(t)
	joinRoomAcked(t, s, conn, "restaurant-1")

	conn.send(t, proto.TypeNewMessage, wireMessage("m1", "restaurant-1", "u2", "first"))
	conn.send(t, proto.TypeNewMessage, wireMessage("m1", "restaurant-1", "u2", "first"))
	conn.send(t, proto.TypeNewMessage, wireMessage("m2", "restaurant-1", "u2", "second"))

	mustEvent(t, s, EventMessage)
	mustEvent(t, s, EventMessage)

	got := s.Messages("restaurant-1")
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(got), got)
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].Body != "first" || got[1].Body != "second" {
		t.Fatalf("unexpected bodies: %+v", got)
	}
}

func TestOwnEchoDeliveredOnce(t *testing.T) {
	s, _, conn := readySession(t)
	joinRoomAcked(t, s, conn, "restaurant-1")

	id, err := s.Send("restaurant-1", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	expectFrame(t, conn, proto.TypeSendMessage)

	// No optimistic render: nothing in the log until the server echo.
	if got := s.Messages("restaurant-1"); len(got) != 0 {
		t.Fatalf("message rendered before echo: %+v", got)
	}

	// Server echoes twice across a reconnect window.
	conn.send(t, proto.TypeNewMessage, wireMessage(id, "restaurant-1", "u1", "hello"))
	conn.send(t, proto.TypeNewMessage, wireMessage(id, "restaurant-1", "u1", "hello"))
	mustEvent(t, s, EventMessage)

	got := s.Messages("restaurant-1")
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("expected one echo of %s, got %+v", id, got)
	}
}

func TestMessagesOrderedByArrivalNotTimestamp(t *testing.T) {
	s, _, conn := readySession(t)
	joinRoomAcked(t, s, conn, "restaurant-1")

	later := wireMessage("m1", "restaurant-1", "u2", "late clock")
	later.Timestamp = time.Now().Add(time.Hour).UnixMilli()
	earlier := wireMessage("m2", "restaurant-1", "u2", "early clock")
	earlier.Timestamp = time.Now().Add(-time.Hour).UnixMilli()

	conn.send(t, proto.TypeNewMessage, later)
	conn.send(t, proto.TypeNewMessage, earlier)
	mustEvent(t, s, EventMessage)
	mustEvent(t, s, EventMessage)

	got := s.Messages("restaurant-1")
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("expected arrival order m1,m2, got %+v", got)
	}
}

func TestMessageForUnjoinedRoomIgnored(t *testing.T) {
	s, _, conn := readySession(t)
	joinRoomAcked(t, s, conn, "restaurant-1")

	conn.send(t, proto.TypeNewMessage, wireMessage("m1", "restaurant-99", "u2", "stray"))
	noEvent(t, s, EventMessage, 80*time.Millisecond)

	if got := s.Messages("restaurant-99"); len(got) != 0 {
		t.Fatalf("stray message stored: %+v", got)
	}
}

// Scenario: join ack, then an empty snapshot shortly after. The loading
// flag clears, the log is empty and no timeout ever fires.
func TestEmptyHistorySnapshot(t *testing.T) {
	s, _, conn := readySession(t)

	if err := s.JoinRoom("restaurant-42"); err != nil {
		t.Fatalf("join: %v", err)
	}
	expectFrame(t, conn, proto.TypeJoinRoom)
	if !s.RoomLoading("restaurant-42") {
		t.Fatal("expected loading state after join")
	}
	conn.send(t, proto.TypeJoinedRoom, proto.JoinedRoomData{RoomID: "restaurant-42", Success: true})

	time.Sleep(20 * time.Millisecond)
	conn.send(t, proto.TypeMessageHistory, proto.HistoryData{RoomID: "restaurant-42", Messages: []proto.MessageData{}})

	ev := mustEvent(t, s, EventHistory)
	if len(ev.Messages) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", ev.Messages)
	}
	if s.RoomLoading("restaurant-42") {
		t.Fatal("loading flag not cleared")
	}
	if got := s.Messages("restaurant-42"); len(got) != 0 {
		t.Fatalf("expected empty log, got %+v", got)
	}

	// The cancelled timer must not fire later.
	noEvent(t, s, EventHistoryTimeout, 2*testConfig().HistoryTimeout)
}

func TestHistorySnapshotReplacesLog(t *testing.T) {
	s, _, conn := readySession(t)
	joinRoomAcked(t, s, conn, "restaurant-1")

	// A live message lands before the snapshot.
	conn.send(t, proto.TypeNewMessage, wireMessage("live1", "restaurant-1", "u2", "early"))
	mustEvent(t, s, EventMessage)

	snapshot := proto.HistoryData{RoomID: "restaurant-1", Messages: []proto.MessageData{
		wireMessage("h1", "restaurant-1", "u2", "old one"),
		wireMessage("h2", "restaurant-1", "u3", "old two"),
	}}
	conn.send(t, proto.TypeMessageHistory, snapshot)

	ev := mustEvent(t, s, EventHistory)
	if len(ev.Messages) != 2 {
		t.Fatalf("expected 2 history messages, got %+v", ev.Messages)
	}

	got := s.Messages("restaurant-1")
	if len(got) != 2 || got[0].ID != "h1" || got[1].ID != "h2" {
		t.Fatalf("snapshot did not replace log: %+v", got)
	}
}

// Scenario: no snapshot ever arrives. The loading flag transitions to
// false exactly once at the timeout and the log is left untouched.
func TestHistoryTimeout(t *testing.T) {
	s, _, conn := readySession(t)

	if err := s.JoinRoom("restaurant-7"); err != nil {
		t.Fatalf("join: %v", err)
	}
	expectFrame(t, conn, proto.TypeJoinRoom)
	conn.send(t, proto.TypeJoinedRoom, proto.JoinedRoomData{RoomID: "restaurant-7", Success: true})

	ev := mustEvent(t, s, EventHistoryTimeout)
	if ev.Room != "restaurant-7" {
		t.Fatalf("unexpected timeout room %q", ev.Room)
	}
	if s.RoomLoading("restaurant-7") {
		t.Fatal("loading flag still set after timeout")
	}
	if got := s.Messages("restaurant-7"); len(got) != 0 {
		t.Fatalf("log changed by timeout: %+v", got)
	}

	// Exactly once.
	noEvent(t, s, EventHistoryTimeout, 2*testConfig().HistoryTimeout)
}

// Each room runs its own history wait; a second room joined in the same
// session still gets a timeout-guarded loading state.
func TestHistoryTrackedPerRoom(t *testing.T) {
	s, _, conn := readySession(t)
	joinRoomAcked(t, s, conn, "restaurant-1")
	conn.send(t, proto.TypeMessageHistory, proto.HistoryData{
		RoomID:   "restaurant-1",
		Messages: []proto.MessageData{wireMessage("h1", "restaurant-1", "u2", "hi")},
	})
	mustEvent(t, s, EventHistory)

	joinRoomAcked(t, s, conn, "restaurant-2")
	if !s.RoomLoading("restaurant-2") {
		t.Fatal("second room did not get its own loading state")
	}
	ev := mustEvent(t, s, EventHistoryTimeout)
	if ev.Room != "restaurant-2" {
		t.Fatalf("unexpected timeout room %q", ev.Room)
	}
}

func TestRejoinAfterHistoryDoesNotReload(t *testing.T) {
	s, _, conn := readySession(t)
	joinRoomAcked(t, s, conn, "restaurant-1")
	conn.send(t, proto.TypeMessageHistory, proto.HistoryData{RoomID: "restaurant-1"})
	mustEvent(t, s, EventHistory)

	s.LeaveRoom("restaurant-1")
	expectFrame(t, conn, proto.TypeLeaveRoom)
	mustEvent(t, s, EventRoomLeft)

	joinRoomAcked(t, s, conn, "restaurant-1")
	if s.RoomLoading("restaurant-1") {
		t.Fatal("history wait re-armed for a room that already has history")
	}
	noEvent(t, s, EventHistoryTimeout, 2*testConfig().HistoryTimeout)
}

func TestLeaveRoomOptimistic(t *testing.T) {
	s, _, conn := readySession(t)
	joinRoomAcked(t, s, conn, "restaurant-1")
	conn.send(t, proto.TypeNewMessage, wireMessage("m1", "restaurant-1", "u2", "hello"))
	mustEvent(t, s, EventMessage)

	s.LeaveRoom("restaurant-1")

	env := expectFrame(t, conn, proto.TypeLeaveRoom)
	var leave proto.LeaveRoomData
	if err := proto.Decode(env, &leave); err != nil {
		t.Fatalf("decode leave: %v", err)
	}
	if leave.RoomID != "restaurant-1" || leave.UserID != "u1" {
		t.Fatalf("unexpected leave payload: %+v", leave)
	}
	mustEvent(t, s, EventRoomLeft)

	// Removed without waiting for any acknowledgement.
	if rooms := s.ActiveRooms(); len(rooms) != 0 {
		t.Fatalf("room still active: %v", rooms)
	}
	// Previously received messages survive the leave.
	if got := s.Messages("restaurant-1"); len(got) != 1 {
		t.Fatalf("messages lost on leave: %+v", got)
	}
}

func TestManyRoomsIndependentLogs(t *testing.T) {
	s, _, conn := readySession(t)

	for i := 1; i <= 3; i++ {
		joinRoomAcked(t, s, conn, RestaurantRoom(fmt.Sprint(i)))
	}
	for i := 1; i <= 3; i++ {
		room := RestaurantRoom(fmt.Sprint(i))
		conn.send(t, proto.TypeNewMessage, wireMessage("m-"+room, room, "u2", "hi "+room))
		mustEvent(t, s, EventMessage)
	}

	for i := 1; i <= 3; i++ {
		room := RestaurantRoom(fmt.Sprint(i))
		got := s.Messages(room)
		if len(got) != 1 || got[0].Room != room {
			t.Fatalf("room %s log wrong: %+v", room, got)
		}
	}
}
