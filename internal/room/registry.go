package room

import (
	"time"

	"github.com/manpreetbhatti/sketchroom/internal/protocol"
)

// A shared canvas: its members in join order and its stroke history
type Room struct {
	ID        string
	CreatedAt time.Time

	members map[string]protocol.User
	order   []string
	history *History
}

func newRoom(id string, limit int) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now(),
		members:   make(map[string]protocol.User),
		history:   NewHistory(limit),
	}
}

func (r *Room) roster() []protocol.User {
	users := make([]protocol.User, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, r.members[id])
	}
	return users
}

// Registry owns every live room. Rooms appear on first join and vanish
// with their last member. It is not safe for concurrent use; the hub
// serializes all calls.
type Registry struct {
	rooms        map[string]*Room
	historyLimit int
}

func NewRegistry(historyLimit int) *Registry {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Registry{
		rooms:        make(map[string]*Room),
		historyLimit: historyLimit,
	}
}

// Registers a member, creating its room if needed, and returns the
// room's history and full roster including the new member.
func (r *Registry) Join(user protocol.User) ([]protocol.Stroke, []protocol.User) {
	rm, ok := r.rooms[user.RoomID]
	if !ok {
		rm = newRoom(user.RoomID, r.historyLimit)
		r.rooms[user.RoomID] = rm
	}

	if _, exists := rm.members[user.UserID]; !exists {
		rm.order = append(rm.order, user.UserID)
	}
	rm.members[user.UserID] = user

	return rm.history.Snapshot(), rm.roster()
}

// Removes a member. Reports whether the room emptied and was discarded.
func (r *Registry) Leave(userID, roomID string) bool {
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := rm.members[userID]; !ok {
		return false
	}

	delete(rm.members, userID)
	for i, id := range rm.order {
		if id == userID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}

	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		return true
	}
	return false
}

// Adds a stroke to a live room. A room without members keeps no state,
// so appending to one is a no-op.
func (r *Registry) Append(roomID string, s protocol.Stroke) bool {
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	rm.history.Append(s)
	return true
}

func (r *Registry) PopLast(roomID string) (protocol.Stroke, bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return protocol.Stroke{}, false
	}
	return rm.history.PopLast()
}

// Empties a room's history, keeping its members
func (r *Registry) Clear(roomID string) {
	if rm, ok := r.rooms[roomID]; ok {
		rm.history.Clear()
	}
}

// Returns the members of a room in join order. Unknown rooms are empty.
func (r *Registry) Roster(roomID string) []protocol.User {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return rm.roster()
}

func (r *Registry) History(roomID string) []protocol.Stroke {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return rm.history.Snapshot()
}

func (r *Registry) HistoryLen(roomID string) int {
	rm, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	return rm.history.Len()
}

func (r *Registry) Exists(roomID string) bool {
	_, ok := r.rooms[roomID]
	return ok
}

func (r *Registry) CreatedAt(roomID string) (time.Time, bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return time.Time{}, false
	}
	return rm.CreatedAt, true
}

// Returns the member count of every live room
func (r *Registry) Counts() map[string]int {
	counts := make(map[string]int, len(r.rooms))
	for id, rm := range r.rooms {
		counts[id] = len(rm.members)
	}
	return counts
}

func (r *Registry) Len() int { return len(r.rooms) }
