package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/manpreetbhatti/sketchroom/internal/activity"
	"github.com/manpreetbhatti/sketchroom/internal/protocol"
)

// Captures activity for assertions
type recorderStub struct {
	mu     sync.Mutex
	events []activity.Event
}

func (r *recorderStub) Record(e activity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorderStub) kinds() []activity.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]activity.Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func newTestHub(opts Options) *Hub {
	opts.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	return NewHub(opts)
}

// Attaches a connection-less client, as the register case of Run does
func connect(h *Hub, roomHint string) *Client {
	c := h.newClient(nil, roomHint)
	h.attach(c)
	return c
}

func send(h *Hub, c *Client, ev protocol.Event) {
	h.handle(&Message{Sender: c, Event: ev})
}

func leave(h *Hub, c *Client) {
	h.handle(&Message{Sender: c, Closed: true})
}

// Returns every queued frame, decoded
func drain(t *testing.T, c *Client) []protocol.Event {
	t.Helper()
	var events []protocol.Event
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return events
			}
			ev, err := protocol.DecodeServer(data)
			if err != nil {
				t.Fatalf("Undecodable frame %s: %v", data, err)
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func joined(t *testing.T, h *Hub, roomID string) (*Client, protocol.Init) {
	t.Helper()
	c := connect(h, "")
	send(h, c, protocol.JoinRoom{RoomID: roomID})
	events := drain(t, c)
	if len(events) != 1 {
		t.Fatalf("Expected only init, got %d events", len(events))
	}
	init, ok := events[0].(protocol.Init)
	if !ok {
		t.Fatalf("Expected init, got %T", events[0])
	}
	return c, init
}

func TestHubCreation(t *testing.T) {
	hub := NewHub(DefaultOptions())
	if hub == nil {
		t.Fatal("Hub should not be nil")
	}
	if hub.registry == nil {
		t.Error("Hub registry should be initialized")
	}
	if hub.GetRoomCount() != 0 || hub.GetClientCount() != 0 {
		t.Error("New hub should be empty")
	}
}

func TestJoinSendsInitAndNotifiesOthers(t *testing.T) {
	h := newTestHub(DefaultOptions())

	a, initA := joined(t, h, "alpha")
	if initA.RoomID != "alpha" || initA.UserID != a.id {
		t.Errorf("Unexpected init: %+v", initA)
	}
	if initA.UserName != "participant 1" {
		t.Errorf("Expected participant 1, got %q", initA.UserName)
	}
	if initA.UserColor == "" {
		t.Error("Init should carry a color")
	}
	if len(initA.Users) != 1 || len(initA.History) != 0 {
		t.Errorf("Expected roster of 1 and empty history, got %+v", initA)
	}

	b, initB := joined(t, h, "alpha")
	if initB.UserName != "participant 2" {
		t.Errorf("Expected participant 2, got %q", initB.UserName)
	}
	if len(initB.Users) != 2 || initB.Users[0].UserID != a.id || initB.Users[1].UserID != b.id {
		t.Errorf("Roster should include both members in join order: %+v", initB.Users)
	}

	events := drain(t, a)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event for a, got %d", len(events))
	}
	notice, ok := events[0].(protocol.UserJoined)
	if !ok || notice.UserID != b.id || notice.UserName != "participant 2" || notice.Color != initB.UserColor {
		t.Errorf("Unexpected join notice: %+v", events[0])
	}
}

func TestJoinWithoutRoomUsesHintThenDefault(t *testing.T) {
	h := newTestHub(DefaultOptions())

	c := connect(h, "from-url")
	send(h, c, protocol.JoinRoom{})
	if init := drain(t, c)[0].(protocol.Init); init.RoomID != "from-url" {
		t.Errorf("Expected URL room, got %q", init.RoomID)
	}

	d := connect(h, "")
	send(h, d, protocol.JoinRoom{})
	if init := drain(t, d)[0].(protocol.Init); init.RoomID != protocol.DefaultRoom {
		t.Errorf("Expected default room, got %q", init.RoomID)
	}
}

func TestNameReuseAfterLeave(t *testing.T) {
	h := newTestHub(DefaultOptions())

	_, _ = joined(t, h, "alpha")
	second, _ := joined(t, h, "alpha")
	_, third := joined(t, h, "alpha")
	if third.UserName != "participant 3" {
		t.Fatalf("Expected participant 3, got %q", third.UserName)
	}

	leave(h, second)

	_, next := joined(t, h, "alpha")
	if next.UserName != "participant 2" {
		t.Errorf("Expected freed participant 2, got %q", next.UserName)
	}
}

func TestDrawMoveExcludesSender(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a, _ := joined(t, h, "alpha")
	b, _ := joined(t, h, "alpha")
	c, _ := joined(t, h, "alpha")
	drain(t, a)
	drain(t, b)

	send(h, a, protocol.DrawMove{Segment: protocol.Segment{X: 1, Y: 2, Color: "#fff", Size: 3}})

	if events := drain(t, a); len(events) != 0 {
		t.Errorf("Sender should not receive its own draw:move, got %d events", len(events))
	}
	for _, peer := range []*Client{b, c} {
		events := drain(t, peer)
		if len(events) != 1 {
			t.Fatalf("Expected 1 event, got %d", len(events))
		}
		move, ok := events[0].(protocol.DrawMove)
		if !ok {
			t.Fatalf("Expected draw:move, got %T", events[0])
		}
		if move.UserID != a.id || move.Timestamp != 1700000000000 || move.X != 1 || move.Color != "#fff" {
			t.Errorf("Unexpected relayed move: %+v", move)
		}
	}
}

func TestDrawStartIgnoresClientStamp(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a, _ := joined(t, h, "alpha")
	b, _ := joined(t, h, "alpha")
	drain(t, a)

	send(h, a, protocol.DrawStart{Segment: protocol.Segment{X: 1, Y: 1, UserID: "forged", Timestamp: 1}})

	start := drain(t, b)[0].(protocol.DrawStart)
	if start.UserID != a.id || start.Timestamp != 1700000000000 {
		t.Errorf("Server should re-stamp segments, got %+v", start)
	}
}

func TestClearReachesEveryone(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a, _ := joined(t, h, "alpha")
	b, _ := joined(t, h, "alpha")
	drain(t, a)

	send(h, a, protocol.DrawEnd{Stroke: protocol.Stroke{Path: []protocol.Point{{X: 1, Y: 1}}}})
	drain(t, b)

	send(h, a, protocol.Clear{})

	for _, c := range []*Client{a, b} {
		events := drain(t, c)
		if len(events) != 1 {
			t.Fatalf("Expected 1 event, got %d", len(events))
		}
		if _, ok := events[0].(protocol.Clear); !ok {
			t.Errorf("Expected clear, got %T", events[0])
		}
	}
	if h.registry.HistoryLen("alpha") != 0 {
		t.Error("Clear should empty history")
	}
}

func TestDrawEndStoredForLateJoiners(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a, _ := joined(t, h, "alpha")

	send(h, a, protocol.DrawEnd{Stroke: protocol.Stroke{
		Path:  []protocol.Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
		Color: "#FF6B6B",
		Size:  8,
	}})
	send(h, a, protocol.DrawEnd{Stroke: protocol.Stroke{Path: []protocol.Point{{X: 3, Y: 3}}}})

	if events := drain(t, a); len(events) != 0 {
		t.Errorf("Sender should not receive its own draw:end, got %d", len(events))
	}

	_, init := joined(t, h, "alpha")
	if len(init.History) != 2 {
		t.Fatalf("Expected 2 strokes, got %d", len(init.History))
	}
	first, second := init.History[0], init.History[1]
	if first.Color != "#FF6B6B" || first.Size != 8 || first.UserID != a.id || first.Timestamp != 1700000000000 {
		t.Errorf("Unexpected first stroke: %+v", first)
	}
	if second.Color != protocol.DefaultColor || second.Size != protocol.DefaultSize {
		t.Errorf("Expected defaults on second stroke, got %+v", second)
	}
}

func TestHistoryBoundThroughHub(t *testing.T) {
	opts := DefaultOptions()
	opts.HistoryLimit = 5
	h := newTestHub(opts)
	a, _ := joined(t, h, "alpha")

	for i := 0; i < 8; i++ {
		send(h, a, protocol.DrawEnd{Stroke: protocol.Stroke{Path: []protocol.Point{{X: float64(i)}}}})
	}

	history := h.registry.History("alpha")
	if len(history) != 5 {
		t.Fatalf("Expected 5 strokes, got %d", len(history))
	}
	if history[0].Path[0].X != 3 || history[4].Path[0].X != 7 {
		t.Errorf("Expected strokes 3..7, got %v..%v", history[0].Path[0].X, history[4].Path[0].X)
	}
}

func TestUndoDeterminism(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a, _ := joined(t, h, "alpha")
	b, _ := joined(t, h, "alpha")
	drain(t, a)

	for i := 1; i <= 3; i++ {
		send(h, a, protocol.DrawEnd{Stroke: protocol.Stroke{Path: []protocol.Point{{X: float64(i), Y: float64(i)}}}})
	}
	drain(t, b)

	for _, expected := range []float64{3, 2} {
		send(h, b, protocol.Undo{})

		for _, c := range []*Client{a, b} {
			events := drain(t, c)
			if len(events) != 1 {
				t.Fatalf("Expected 1 undo event, got %d", len(events))
			}
			undo, ok := events[0].(protocol.Undo)
			if !ok || undo.Removed == nil {
				t.Fatalf("Expected undo with removed stroke, got %+v", events[0])
			}
			if undo.Removed.Path[0].X != expected {
				t.Errorf("Expected removed stroke %v, got %v", expected, undo.Removed.Path[0].X)
			}
		}
	}

	if h.registry.HistoryLen("alpha") != 1 {
		t.Errorf("Expected 1 stroke left, got %d", h.registry.HistoryLen("alpha"))
	}
}

func TestUndoOnEmptyHistoryIsSilent(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a, _ := joined(t, h, "alpha")
	b, _ := joined(t, h, "alpha")
	drain(t, a)

	send(h, a, protocol.Undo{})

	if len(drain(t, a)) != 0 || len(drain(t, b)) != 0 {
		t.Error("Undo with empty history should send nothing")
	}
}

func TestRedoIsAdvisory(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a, _ := joined(t, h, "alpha")
	b, _ := joined(t, h, "alpha")
	drain(t, a)

	send(h, a, protocol.DrawEnd{Stroke: protocol.Stroke{Path: []protocol.Point{{X: 1}}}})
	send(h, a, protocol.Undo{})
	drain(t, a)
	drain(t, b)

	send(h, a, protocol.Redo{})

	if len(drain(t, a)) != 0 {
		t.Error("Redo should not echo to the sender")
	}
	events := drain(t, b)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if _, ok := events[0].(protocol.Redo); !ok {
		t.Errorf("Expected redo, got %T", events[0])
	}
	if h.registry.HistoryLen("alpha") != 0 {
		t.Error("Redo must not restore server history")
	}
}

func TestCursorMoveColor(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a, initA := joined(t, h, "alpha")
	b, _ := joined(t, h, "alpha")
	drain(t, a)

	send(h, a, protocol.CursorMove{X: 5, Y: 6})
	cursor := drain(t, b)[0].(protocol.CursorMove)
	if cursor.UserID != a.id || cursor.X != 5 || cursor.Y != 6 {
		t.Errorf("Unexpected cursor: %+v", cursor)
	}
	if cursor.Color != initA.UserColor {
		t.Errorf("Expected sender color %q, got %q", initA.UserColor, cursor.Color)
	}

	send(h, a, protocol.CursorMove{X: 1, Y: 1, Color: "#123456"})
	if cursor := drain(t, b)[0].(protocol.CursorMove); cursor.Color != "#123456" {
		t.Errorf("Expected explicit color, got %q", cursor.Color)
	}
	if len(drain(t, a)) != 0 {
		t.Error("Cursor moves should not echo")
	}
}

func TestCursorMoveFromUnjoinedDefaultsToBlack(t *testing.T) {
	h := newTestHub(DefaultOptions())
	member, _ := joined(t, h, protocol.DefaultRoom)
	stranger := connect(h, "")

	send(h, stranger, protocol.CursorMove{X: 1, Y: 2})

	cursor := drain(t, member)[0].(protocol.CursorMove)
	if cursor.Color != protocol.DefaultColor {
		t.Errorf("Expected black, got %q", cursor.Color)
	}
}

func TestCrossRoomIsolation(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a1, _ := joined(t, h, "alpha")
	a2, _ := joined(t, h, "alpha")
	b1, _ := joined(t, h, "beta")
	drain(t, a1)

	send(h, a1, protocol.DrawMove{Segment: protocol.Segment{X: 1, Y: 1}})
	send(h, a1, protocol.DrawEnd{Stroke: protocol.Stroke{Path: []protocol.Point{{X: 1}}}})
	send(h, a1, protocol.CursorMove{X: 1, Y: 1})
	send(h, a1, protocol.Undo{})
	send(h, a1, protocol.Redo{})
	send(h, a1, protocol.Clear{})

	if events := drain(t, b1); len(events) != 0 {
		t.Errorf("Room beta received %d events from alpha", len(events))
	}
	if events := drain(t, a2); len(events) != 6 {
		t.Errorf("Expected 6 events in alpha, got %d", len(events))
	}

	leave(h, b1)
	if events := drain(t, a2); len(events) != 0 {
		t.Errorf("Leaving beta should not notify alpha, got %d", len(events))
	}
}

func TestRoomTeardownOnLastLeave(t *testing.T) {
	rec := &recorderStub{}
	opts := DefaultOptions()
	opts.Recorder = rec
	h := newTestHub(opts)

	a, _ := joined(t, h, "alpha")
	b, _ := joined(t, h, "alpha")
	send(h, a, protocol.DrawEnd{Stroke: protocol.Stroke{Path: []protocol.Point{{X: 1}}}})
	drain(t, a)
	drain(t, b)

	leave(h, a)
	events := drain(t, b)
	if len(events) != 1 {
		t.Fatalf("Expected user:leave, got %d events", len(events))
	}
	if left, ok := events[0].(protocol.UserLeft); !ok || left.UserID != a.id {
		t.Errorf("Unexpected leave notice: %+v", events[0])
	}

	leave(h, b)
	if h.GetRoomCount() != 0 {
		t.Errorf("Expected no rooms, got %d", h.GetRoomCount())
	}

	_, init := joined(t, h, "alpha")
	if len(init.History) != 0 || len(init.Users) != 1 {
		t.Errorf("Expected fresh room, got history %d users %d", len(init.History), len(init.Users))
	}
	if init.UserName != "participant 1" {
		t.Errorf("Expected participant 1 in fresh room, got %q", init.UserName)
	}

	expected := []activity.Kind{
		activity.RoomOpened, activity.UserJoined, activity.UserJoined, activity.StrokeAdded,
		activity.UserLeft, activity.RoomClosed, activity.RoomOpened, activity.UserJoined,
	}
	got := rec.kinds()
	if len(got) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Activity %d: expected %s, got %s", i, expected[i], got[i])
		}
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a, _ := joined(t, h, "alpha")
	b, _ := joined(t, h, "alpha")
	drain(t, a)

	leave(h, a)
	leave(h, a)

	if events := drain(t, b); len(events) != 1 {
		t.Errorf("Expected exactly one leave notice, got %d", len(events))
	}
	if _, ok := <-a.send; ok {
		t.Error("Send channel should be closed")
	}
}

func TestUnjoinedEventsUseDefaultRoom(t *testing.T) {
	h := newTestHub(DefaultOptions())
	member, _ := joined(t, h, protocol.DefaultRoom)
	stranger := connect(h, "")

	send(h, stranger, protocol.DrawEnd{Stroke: protocol.Stroke{Path: []protocol.Point{{X: 1}}}})
	if events := drain(t, member); len(events) != 1 {
		t.Fatalf("Expected draw:end in default room, got %d", len(events))
	}
	if h.registry.HistoryLen(protocol.DefaultRoom) != 1 {
		t.Error("Stroke should land in the default room history")
	}

	send(h, stranger, protocol.Clear{})
	if _, ok := drain(t, stranger)[0].(protocol.Clear); !ok {
		t.Error("Unjoined sender should still see its clear")
	}
	drain(t, member)

	leave(h, stranger)
	if events := drain(t, member); len(events) != 0 {
		t.Errorf("Unjoined disconnect should not notify the room, got %d", len(events))
	}
}

func TestUnjoinedEventsUseURLRoom(t *testing.T) {
	h := newTestHub(DefaultOptions())
	member, _ := joined(t, h, "sketch")
	stranger := connect(h, "sketch")

	send(h, stranger, protocol.DrawMove{Segment: protocol.Segment{X: 1, Y: 1}})
	if events := drain(t, member); len(events) != 1 {
		t.Errorf("Expected move in URL room, got %d", len(events))
	}
}

func TestUnjoinedStrokeToEmptyRoomLeavesNoState(t *testing.T) {
	h := newTestHub(DefaultOptions())
	stranger := connect(h, "")

	send(h, stranger, protocol.DrawEnd{Stroke: protocol.Stroke{Path: []protocol.Point{{X: 1}}}})

	if h.GetRoomCount() != 0 {
		t.Error("A stroke into an empty room must not create it")
	}
	_, init := joined(t, h, protocol.DefaultRoom)
	if len(init.History) != 0 {
		t.Errorf("Expected empty history, got %d", len(init.History))
	}
}

func TestStrictJoinRejectsUnjoinedEvents(t *testing.T) {
	opts := DefaultOptions()
	opts.StrictJoin = true
	h := newTestHub(opts)
	member, _ := joined(t, h, protocol.DefaultRoom)
	stranger := connect(h, "")

	send(h, stranger, protocol.DrawEnd{Stroke: protocol.Stroke{Path: []protocol.Point{{X: 1}}}})
	send(h, stranger, protocol.Clear{})

	events := drain(t, stranger)
	if len(events) != 2 {
		t.Fatalf("Expected 2 errors, got %d", len(events))
	}
	for _, ev := range events {
		if _, ok := ev.(protocol.Error); !ok {
			t.Errorf("Expected error event, got %T", ev)
		}
	}
	if len(drain(t, member)) != 0 {
		t.Error("Rejected events must not reach the room")
	}
	if h.registry.HistoryLen(protocol.DefaultRoom) != 0 {
		t.Error("Rejected events must not change history")
	}
}

func TestRepeatedJoinRejected(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a, init := joined(t, h, "alpha")

	send(h, a, protocol.JoinRoom{RoomID: "beta"})

	events := drain(t, a)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if _, ok := events[0].(protocol.Error); !ok {
		t.Errorf("Expected error, got %T", events[0])
	}
	if a.roomID != "alpha" || a.user.UserName != init.UserName {
		t.Error("Repeated join must not change identity or room")
	}
	if h.registry.Exists("beta") {
		t.Error("Repeated join must not create a room")
	}
}

func TestSlowClientDropped(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a, _ := joined(t, h, "alpha")
	slow, _ := joined(t, h, "alpha")
	drain(t, a)

	for i := 0; i < sendBuffer+1; i++ {
		send(h, a, protocol.CursorMove{X: float64(i)})
	}

	if _, ok := h.members[slow.id]; ok {
		t.Error("Slow client should have been dropped")
	}
	if len(h.registry.Roster("alpha")) != 1 {
		t.Errorf("Expected 1 member left, got %d", len(h.registry.Roster("alpha")))
	}
	events := drain(t, a)
	if len(events) != 1 {
		t.Fatalf("Expected leave notice, got %d events", len(events))
	}
	if _, ok := events[0].(protocol.UserLeft); !ok {
		t.Errorf("Expected user:leave, got %T", events[0])
	}
}

func TestGetRoomSnapshot(t *testing.T) {
	h := newTestHub(DefaultOptions())
	a, _ := joined(t, h, "alpha")
	joined(t, h, "alpha")
	joined(t, h, "beta")
	send(h, a, protocol.DrawEnd{Stroke: protocol.Stroke{Path: []protocol.Point{{X: 1}}}})

	snap, ok := h.GetRoom("alpha")
	if !ok {
		t.Fatal("Room alpha should exist")
	}
	if len(snap.Users) != 2 || snap.HistorySize != 1 {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
	if _, ok := h.GetRoom("gamma"); ok {
		t.Error("Unknown room should not exist")
	}

	active := h.GetActiveRooms()
	if active["alpha"] != 2 || active["beta"] != 1 {
		t.Errorf("Unexpected active rooms: %v", active)
	}
	if h.GetClientCount() != 3 {
		t.Errorf("Expected 3 clients, got %d", h.GetClientCount())
	}
}

func TestRunShutdownClosesClients(t *testing.T) {
	h := newTestHub(DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := h.newClient(nil, "")
	h.register <- c
	h.inbound <- &Message{Sender: c, Event: protocol.JoinRoom{RoomID: "alpha"}}

	select {
	case data := <-c.send:
		if _, err := protocol.DecodeServer(data); err != nil {
			t.Fatalf("Bad init frame: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for init")
	}

	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("Hub did not stop")
	}

	if _, ok := <-c.send; ok {
		t.Error("Client send channel should be closed on shutdown")
	}
	if h.GetRoomCount() != 0 || h.GetClientCount() != 0 {
		t.Error("Shutdown should release all rooms and clients")
	}
}
