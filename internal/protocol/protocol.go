package protocol

// Names a wire event
type Kind string

const (
	// Client asks to join a room
	KindJoinRoom Kind = "join:room"

	// Server greets a joiner with history and roster
	KindInit Kind = "init"

	// Roster changes, sent to the other members of a room
	KindUserJoin  Kind = "user:join"
	KindUserLeave Kind = "user:leave"

	// Live stroke segments and completed strokes
	KindDrawStart Kind = "draw:start"
	KindDrawMove  Kind = "draw:move"
	KindDrawEnd   Kind = "draw:end"

	// Remote pointer position
	KindCursorMove Kind = "cursor:move"

	// Shared history operations
	KindUndo  Kind = "undo"
	KindRedo  Kind = "redo"
	KindClear Kind = "clear"

	// Rejection of a client event
	KindError Kind = "error"
)

const (
	DefaultRoom  = "default"
	DefaultColor = "#000000"
	DefaultSize  = 5
)

// Reports whether a client may send this kind
func (k Kind) FromClient() bool {
	switch k {
	case KindJoinRoom, KindDrawStart, KindDrawMove, KindDrawEnd,
		KindCursorMove, KindUndo, KindRedo, KindClear:
		return true
	}
	return false
}

// Reports whether the server may send this kind
func (k Kind) FromServer() bool {
	switch k {
	case KindInit, KindUserJoin, KindUserLeave, KindDrawStart, KindDrawMove,
		KindDrawEnd, KindCursorMove, KindUndo, KindRedo, KindClear, KindError:
		return true
	}
	return false
}

// Event is one decoded message. Each kind has exactly one payload type.
type Event interface {
	Kind() Kind
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// A completed freehand path as kept in room history
type Stroke struct {
	Path      []Point `json:"path"`
	Color     string  `json:"color"`
	Size      float64 `json:"size"`
	UserID    string  `json:"userId"`
	Timestamp int64   `json:"timestamp"`
}

// A connected participant as seen by its room
type User struct {
	UserID   string `json:"userId"`
	Color    string `json:"color"`
	UserName string `json:"userName"`
	RoomID   string `json:"roomId,omitempty"`
}

type JoinRoom struct {
	RoomID string `json:"roomId"`
}

type Init struct {
	History   []Stroke `json:"history"`
	UserID    string   `json:"userId"`
	UserColor string   `json:"userColor"`
	UserName  string   `json:"userName"`
	Users     []User   `json:"users"`
	RoomID    string   `json:"roomId"`
}

type UserJoined struct {
	UserID   string `json:"userId"`
	Color    string `json:"color"`
	UserName string `json:"userName"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

// Segment fields shared by draw:start and draw:move. UserID and
// Timestamp are only set on relayed copies.
type Segment struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Color     string  `json:"color"`
	Size      float64 `json:"size"`
	UserID    string  `json:"userId,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

type DrawStart struct{ Segment }

type DrawMove struct{ Segment }

// Inbound it carries only the path (and optionally color/size); relayed
// it is the full stroke.
type DrawEnd struct{ Stroke }

type CursorMove struct {
	UserID string  `json:"userId,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Color  string  `json:"color,omitempty"`
}

type Undo struct {
	Removed *Stroke `json:"removed,omitempty"`
}

type Redo struct{}

type Clear struct{}

type Error struct {
	Message string `json:"message"`
}

func (JoinRoom) Kind() Kind   { return KindJoinRoom }
func (Init) Kind() Kind       { return KindInit }
func (UserJoined) Kind() Kind { return KindUserJoin }
func (UserLeft) Kind() Kind   { return KindUserLeave }
func (DrawStart) Kind() Kind  { return KindDrawStart }
func (DrawMove) Kind() Kind   { return KindDrawMove }
func (DrawEnd) Kind() Kind    { return KindDrawEnd }
func (CursorMove) Kind() Kind { return KindCursorMove }
func (Undo) Kind() Kind       { return KindUndo }
func (Redo) Kind() Kind       { return KindRedo }
func (Clear) Kind() Kind      { return KindClear }
func (Error) Kind() Kind      { return KindError }
