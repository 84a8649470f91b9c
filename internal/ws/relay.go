package ws

import (
	"log"

	"github.com/manpreetbhatti/sketchroom/internal/activity"
	"github.com/manpreetbhatti/sketchroom/internal/protocol"
)

// Applies one inbound event. Runs on the hub loop with h.mu held.
func (h *Hub) dispatch(c *Client, ev protocol.Event) {
	if join, ok := ev.(protocol.JoinRoom); ok {
		h.join(c, join)
		return
	}

	roomID, ok := h.roomFor(c)
	if !ok {
		h.reply(c, protocol.Error{Message: "join a room before sending " + string(ev.Kind())})
		return
	}

	switch e := ev.(type) {
	case protocol.DrawStart:
		e.UserID = c.id
		e.Timestamp = h.now()
		h.broadcast(roomID, protocol.MustEncode(e), c)

	case protocol.DrawMove:
		e.UserID = c.id
		e.Timestamp = h.now()
		h.broadcast(roomID, protocol.MustEncode(e), c)

	case protocol.DrawEnd:
		e.Stroke = e.Stroke.WithDefaults()
		e.UserID = c.id
		e.Timestamp = h.now()
		if h.registry.Append(roomID, e.Stroke) {
			h.record(activity.StrokeAdded, roomID)
		}
		h.broadcast(roomID, protocol.MustEncode(e), c)

	case protocol.CursorMove:
		e.UserID = c.id
		if e.Color == "" {
			e.Color = c.user.Color
		}
		if e.Color == "" {
			e.Color = protocol.DefaultColor
		}
		h.broadcast(roomID, protocol.MustEncode(e), c)

	case protocol.Undo:
		removed, ok := h.registry.PopLast(roomID)
		if !ok {
			return
		}
		h.record(activity.StrokeUndone, roomID)
		h.broadcastAll(roomID, protocol.MustEncode(protocol.Undo{Removed: &removed}), c)

	case protocol.Redo:
		h.broadcast(roomID, protocol.MustEncode(protocol.Redo{}), c)

	case protocol.Clear:
		h.registry.Clear(roomID)
		h.record(activity.RoomCleared, roomID)
		h.broadcastAll(roomID, protocol.MustEncode(protocol.Clear{}), c)

	default:
		log.Printf("⚠️ Ignoring %s from client %s", ev.Kind(), c.id)
	}
}

// Resolves the room an event applies to. Unjoined clients use their
// default room unless strict joining is on.
func (h *Hub) roomFor(c *Client) (string, bool) {
	if c.joined {
		return c.roomID, true
	}
	if h.opts.StrictJoin {
		return "", false
	}
	return c.defaultRoom(), true
}

func (h *Hub) join(c *Client, e protocol.JoinRoom) {
	if c.joined {
		h.reply(c, protocol.Error{Message: "already joined room " + c.roomID})
		return
	}

	roomID := e.RoomID
	if roomID == "" {
		roomID = c.defaultRoom()
	}

	created := !h.registry.Exists(roomID)
	user := protocol.User{
		UserID:   c.id,
		Color:    h.ids.Color(),
		UserName: h.ids.Name(h.registry.Roster(roomID)),
		RoomID:   roomID,
	}
	history, roster := h.registry.Join(user)

	c.joined = true
	c.roomID = roomID
	c.user = user
	h.members[c.id] = c

	h.reply(c, protocol.Init{
		History:   history,
		UserID:    user.UserID,
		UserColor: user.Color,
		UserName:  user.UserName,
		Users:     roster,
		RoomID:    roomID,
	})
	if !h.clients[c] {
		return
	}
	h.broadcast(roomID, protocol.MustEncode(protocol.UserJoined{
		UserID:   user.UserID,
		Color:    user.Color,
		UserName: user.UserName,
	}), c)

	if created {
		h.record(activity.RoomOpened, roomID)
	}
	h.record(activity.UserJoined, roomID)
	log.Printf("Client %s joined room %s as %s (total: %d)", c.id, roomID, user.UserName, len(roster))
}
