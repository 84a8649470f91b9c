package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/manpreetbhatti/sketchroom/internal/activity"
	"github.com/manpreetbhatti/sketchroom/internal/identity"
	"github.com/manpreetbhatti/sketchroom/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/internal/ratelimit"
	"github.com/manpreetbhatti/sketchroom/internal/room"
)

// Receives room lifecycle and stroke activity. Record must not block.
type Recorder interface {
	Record(activity.Event)
}

type Options struct {
	HistoryLimit int

	// Reject events from connections that have not joined a room
	// instead of applying them to their default room
	StrictJoin bool

	Palette  []string
	Recorder Recorder

	// Per-connection inbound frame budget
	MessagesPerSecond float64
	MessageBurst      int

	// Optional per-address handshake throttle
	Handshakes *ratelimit.ClientLimiters

	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		HistoryLimit:      room.DefaultHistoryLimit,
		MessagesPerSecond: 200,
		MessageBurst:      400,
	}
}

// Hub is the relay. A single Run loop owns every room and applies
// register, unregister and inbound events one at a time.
type Hub struct {
	registry *room.Registry
	ids      *identity.Allocator
	opts     Options

	// Every connected client, joined or not
	clients map[*Client]bool

	// Joined clients by connection id
	members map[string]*Client

	// Inbound events and disconnects share one channel so a client's
	// last frames are applied before its departure
	inbound  chan *Message
	register chan *Client
	done     chan struct{}

	// Held by Run while handling; read side serves admin queries
	mu sync.RWMutex
}

// An inbound event from one client, or its disconnect when Closed is set
type Message struct {
	Sender *Client
	Event  protocol.Event
	Closed bool
}

func NewHub(opts Options) *Hub {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = room.DefaultHistoryLimit
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = DefaultOptions().MessagesPerSecond
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = DefaultOptions().MessageBurst
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Hub{
		registry: room.NewRegistry(opts.HistoryLimit),
		ids:      identity.NewAllocator(opts.Palette),
		opts:     opts,
		clients:  make(map[*Client]bool),
		members:  make(map[string]*Client),
		inbound:  make(chan *Message, 256),
		register: make(chan *Client),
		done:     make(chan struct{}),
	}
}

// Runs the dispatch loop until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.attach(client)
			h.mu.Unlock()

		case message := <-h.inbound:
			h.mu.Lock()
			h.handle(message)
			h.mu.Unlock()
		}
	}
}

// Closed once Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.members = make(map[string]*Client)
	h.registry = room.NewRegistry(h.opts.HistoryLimit)
	h.mu.Unlock()

	close(h.done)
	log.Println("Hub stopped")
}

func (h *Hub) attach(c *Client) {
	h.clients[c] = true
	log.Printf("Client %s connected (total: %d)", c.id, len(h.clients))
}

func (h *Hub) handle(m *Message) {
	if m.Closed {
		h.disconnect(m.Sender)
		return
	}
	if h.clients[m.Sender] {
		h.dispatch(m.Sender, m.Event)
	}
}

func (h *Hub) now() int64 {
	return h.opts.Now().UnixMilli()
}

func (h *Hub) record(kind activity.Kind, roomID string) {
	if h.opts.Recorder == nil {
		return
	}
	h.opts.Recorder.Record(activity.Event{
		Kind:   kind,
		RoomID: roomID,
		Users:  len(h.registry.Roster(roomID)),
		At:     h.opts.Now(),
	})
}

// Removes a client for good, leaving its room if it joined one
func (h *Hub) disconnect(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)

	if !c.joined {
		log.Printf("Client %s disconnected before joining", c.id)
		return
	}

	delete(h.members, c.id)
	emptied := h.registry.Leave(c.id, c.roomID)
	h.broadcast(c.roomID, protocol.MustEncode(protocol.UserLeft{UserID: c.id}), c)

	if emptied {
		h.record(activity.RoomClosed, c.roomID)
		log.Printf("Room %s cleaned up (empty)", c.roomID)
	} else {
		h.record(activity.UserLeft, c.roomID)
		log.Printf("Client %s left room %s (remaining: %d)",
			c.id, c.roomID, len(h.registry.Roster(c.roomID)))
	}
}

// Queues a frame for one client. A full buffer means the client cannot
// keep up; it is reported back so the caller can drop it.
func deliver(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Sends to every member of a room except one client (nil for none)
func (h *Hub) broadcast(roomID string, data []byte, except *Client) {
	var slow []*Client
	for _, u := range h.registry.Roster(roomID) {
		member, ok := h.members[u.UserID]
		if !ok || member == except {
			continue
		}
		if !deliver(member, data) {
			slow = append(slow, member)
		}
	}

	for _, c := range slow {
		log.Printf("⚠️ Dropping client %s in room %s: send buffer full", c.id, roomID)
		h.disconnect(c)
	}
}

// Sends to the whole room, plus the sender when it is not a member
func (h *Hub) broadcastAll(roomID string, data []byte, sender *Client) {
	h.broadcast(roomID, data, nil)
	if !sender.joined && h.clients[sender] {
		if !deliver(sender, data) {
			h.disconnect(sender)
		}
	}
}

func (h *Hub) reply(c *Client, ev protocol.Event) {
	if !deliver(c, protocol.MustEncode(ev)) {
		log.Printf("⚠️ Dropping client %s: send buffer full", c.id)
		h.disconnect(c)
	}
}

// GetRoomCount returns the number of live rooms
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry.Len()
}

// GetClientCount returns the number of open connections
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetActiveRooms returns the member count of every live room
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry.Counts()
}

// Point-in-time view of a live room
type RoomSnapshot struct {
	ID          string          `json:"id"`
	Users       []protocol.User `json:"users"`
	HistorySize int             `json:"history_size"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (h *Hub) GetRoom(roomID string) (RoomSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	createdAt, ok := h.registry.CreatedAt(roomID)
	if !ok {
		return RoomSnapshot{}, false
	}
	return RoomSnapshot{
		ID:          roomID,
		Users:       h.registry.Roster(roomID),
		HistorySize: h.registry.HistoryLen(roomID),
		CreatedAt:   createdAt,
	}, true
}
