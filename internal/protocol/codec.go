package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrUnknownEvent = errors.New("unknown event")
	ErrServerOnly   = errors.New("event is not accepted from clients")
	ErrClientOnly   = errors.New("event is not sent by the server")
)

// Envelope is the frame layout on the wire
type Envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decodes a frame sent by a client. Server-only kinds are rejected.
func DecodeClient(data []byte) (Event, error) {
	env, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}
	if !env.Event.FromClient() {
		if env.Event.FromServer() {
			return nil, fmt.Errorf("%w: %s", ErrServerOnly, env.Event)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return decodePayload(env)
}

// Decodes a frame sent by the server
func DecodeServer(data []byte) (Event, error) {
	env, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}
	if !env.Event.FromServer() {
		if env.Event.FromClient() {
			return nil, fmt.Errorf("%w: %s", ErrClientOnly, env.Event)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return decodePayload(env)
}

// Encodes an event into a frame
func Encode(ev Event) ([]byte, error) {
	env := Envelope{Event: ev.Kind()}

	switch e := ev.(type) {
	case Redo, Clear:
	case Undo:
		if e.Removed != nil {
			raw, err := json.Marshal(e)
			if err != nil {
				return nil, err
			}
			env.Data = raw
		}
	case JoinRoom:
		if e.RoomID != "" {
			raw, err := json.Marshal(e.RoomID)
			if err != nil {
				return nil, err
			}
			env.Data = raw
		}
	default:
		raw, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}

	return json.Marshal(env)
}

// Like Encode, for events built by the server itself
func MustEncode(ev Event) []byte {
	data, err := Encode(ev)
	if err != nil {
		panic(fmt.Sprintf("protocol: encoding %s: %v", ev.Kind(), err))
	}
	return data
}

func parseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if len(bytes.TrimSpace(data)) == 0 {
		return env, ErrEmptyMessage
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("invalid frame: %w", err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("%w: missing event name", ErrUnknownEvent)
	}
	return env, nil
}

func hasData(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func decodePayload(env Envelope) (Event, error) {
	switch env.Event {
	case KindJoinRoom:
		return decodeJoin(env.Data)
	case KindInit:
		var e Init
		return e, unmarshal(env, &e)
	case KindUserJoin:
		var e UserJoined
		return e, unmarshal(env, &e)
	case KindUserLeave:
		var e UserLeft
		return e, unmarshal(env, &e)
	case KindDrawStart:
		var e DrawStart
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		e.Segment = e.Segment.withDefaults()
		return e, nil
	case KindDrawMove:
		var e DrawMove
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		e.Segment = e.Segment.withDefaults()
		return e, nil
	case KindDrawEnd:
		var e DrawEnd
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		e.Stroke = e.Stroke.WithDefaults()
		return e, nil
	case KindCursorMove:
		var e CursorMove
		return e, unmarshal(env, &e)
	case KindUndo:
		var e Undo
		return e, unmarshal(env, &e)
	case KindRedo:
		return Redo{}, nil
	case KindClear:
		return Clear{}, nil
	case KindError:
		var e Error
		return e, unmarshal(env, &e)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func unmarshal(env Envelope, v any) error {
	if !hasData(env.Data) {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Event, err)
	}
	return nil
}

// join:room accepts a bare string, an object with roomId, or nothing
func decodeJoin(raw json.RawMessage) (Event, error) {
	if !hasData(raw) {
		return JoinRoom{}, nil
	}

	var roomID string
	if err := json.Unmarshal(raw, &roomID); err == nil {
		return JoinRoom{RoomID: roomID}, nil
	}

	var e JoinRoom
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", KindJoinRoom, err)
	}
	return e, nil
}

func (s Segment) withDefaults() Segment {
	if s.Color == "" {
		s.Color = DefaultColor
	}
	if s.Size <= 0 {
		s.Size = DefaultSize
	}
	return s
}

// Fills in color and size when the sender left them out
func (s Stroke) WithDefaults() Stroke {
	if s.Color == "" {
		s.Color = DefaultColor
	}
	if s.Size <= 0 {
		s.Size = DefaultSize
	}
	if s.Path == nil {
		s.Path = []Point{}
	}
	return s
}
