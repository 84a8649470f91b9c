package canvas

import (
	"slices"
	"sync"

	"github.com/manpreetbhatti/sketchroom/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/internal/room"
)

// Last known pointer position of a remote user
type Cursor struct {
	X     float64
	Y     float64
	Color string
}

// Board mirrors one room as seen by a single client. It applies relayed
// events to a local copy of the roster, stroke history, in-progress
// strokes and cursors. Safe for concurrent use.
type Board struct {
	mu sync.RWMutex

	limit  int
	self   protocol.User
	roomID string

	// Other users in join order
	users []protocol.User

	history []protocol.Stroke
	pending map[string]*protocol.Stroke
	cursors map[string]Cursor

	redos     int
	lastError string
}

func NewBoard(limit int) *Board {
	if limit <= 0 {
		limit = room.DefaultHistoryLimit
	}
	return &Board{
		limit:   limit,
		pending: make(map[string]*protocol.Stroke),
		cursors: make(map[string]Cursor),
	}
}

// Apply folds one server event into the board
func (b *Board) Apply(ev protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch e := ev.(type) {
	case protocol.Init:
		b.reset(e)

	case protocol.UserJoined:
		b.removeUser(e.UserID)
		b.users = append(b.users, protocol.User{UserID: e.UserID, Color: e.Color, UserName: e.UserName})

	case protocol.UserLeft:
		b.removeUser(e.UserID)
		delete(b.cursors, e.UserID)
		delete(b.pending, e.UserID)

	case protocol.DrawStart:
		b.pending[e.UserID] = &protocol.Stroke{
			Path:      []protocol.Point{{X: e.X, Y: e.Y}},
			Color:     e.Color,
			Size:      e.Size,
			UserID:    e.UserID,
			Timestamp: e.Timestamp,
		}

	case protocol.DrawMove:
		// A move without a start still begins a stroke
		s, ok := b.pending[e.UserID]
		if !ok {
			s = &protocol.Stroke{Color: e.Color, Size: e.Size, UserID: e.UserID, Timestamp: e.Timestamp}
			b.pending[e.UserID] = s
		}
		s.Path = append(s.Path, protocol.Point{X: e.X, Y: e.Y})

	case protocol.DrawEnd:
		delete(b.pending, e.UserID)
		b.append(e.Stroke)

	case protocol.CursorMove:
		b.cursors[e.UserID] = Cursor{X: e.X, Y: e.Y, Color: e.Color}

	case protocol.Undo:
		b.undo(e.Removed)

	case protocol.Redo:
		b.redos++

	case protocol.Clear:
		b.history = nil
		clear(b.pending)

	case protocol.Error:
		b.lastError = e.Message
	}
}

func (b *Board) reset(e protocol.Init) {
	b.self = protocol.User{UserID: e.UserID, Color: e.UserColor, UserName: e.UserName, RoomID: e.RoomID}
	b.roomID = e.RoomID
	if b.roomID == "" {
		b.roomID = protocol.DefaultRoom
	}

	b.users = b.users[:0]
	for _, u := range e.Users {
		if u.UserID != e.UserID {
			b.users = append(b.users, u)
		}
	}

	b.history = nil
	for _, s := range e.History {
		b.append(s)
	}
	clear(b.pending)
	clear(b.cursors)
	b.redos = 0
	b.lastError = ""
}

func (b *Board) removeUser(userID string) {
	b.users = slices.DeleteFunc(b.users, func(u protocol.User) bool {
		return u.UserID == userID
	})
}

func (b *Board) append(s protocol.Stroke) {
	b.history = append(b.history, s)
	if over := len(b.history) - b.limit; over > 0 {
		b.history = slices.Delete(b.history, 0, over)
	}
}

// Removes the stroke the server popped. Matches on author and timestamp,
// then author and path, else drops the most recent stroke.
func (b *Board) undo(removed *protocol.Stroke) {
	if len(b.history) == 0 {
		return
	}

	i := -1
	if removed != nil {
		if removed.Timestamp != 0 {
			i = b.lastIndex(func(s protocol.Stroke) bool {
				return s.UserID == removed.UserID && s.Timestamp == removed.Timestamp
			})
		}
		if i < 0 {
			i = b.lastIndex(func(s protocol.Stroke) bool {
				return s.UserID == removed.UserID && slices.Equal(s.Path, removed.Path)
			})
		}
	}
	if i < 0 {
		i = len(b.history) - 1
	}
	b.history = slices.Delete(b.history, i, i+1)
}

func (b *Board) lastIndex(match func(protocol.Stroke) bool) int {
	for i := len(b.history) - 1; i >= 0; i-- {
		if match(b.history[i]) {
			return i
		}
	}
	return -1
}

// AddLocal records a stroke this client finished drawing. The relay does
// not echo a sender's own draw:end back to it.
func (b *Board) AddLocal(s protocol.Stroke) protocol.Stroke {
	b.mu.Lock()
	defer b.mu.Unlock()

	s = s.WithDefaults()
	if s.UserID == "" {
		s.UserID = b.self.UserID
	}
	b.append(s)
	return s
}

func (b *Board) Self() protocol.User {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.self
}

func (b *Board) RoomID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.roomID
}

// Users returns the other members of the room in join order
func (b *Board) Users() []protocol.User {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.users)
}

func (b *Board) History() []protocol.Stroke {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.history)
}

func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

func (b *Board) Pending(userID string) (protocol.Stroke, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.pending[userID]
	if !ok {
		return protocol.Stroke{}, false
	}
	cp := *s
	cp.Path = slices.Clone(s.Path)
	return cp, true
}

func (b *Board) Cursor(userID string) (Cursor, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.cursors[userID]
	return c, ok
}

// Redos counts advisory redo notices received since the last init
func (b *Board) Redos() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.redos
}

func (b *Board) LastError() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}
