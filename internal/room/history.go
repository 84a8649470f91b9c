package room

import "github.com/manpreetbhatti/sketchroom/internal/protocol"

// Matches the per-room bound of the relay
const DefaultHistoryLimit = 1000

// History is a bounded, insertion-ordered stroke log. Once full, each
// append evicts the oldest stroke.
type History struct {
	buf   []protocol.Stroke
	start int
	size  int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{buf: make([]protocol.Stroke, limit)}
}

// Adds a stroke, dropping the oldest one at capacity
func (h *History) Append(s protocol.Stroke) {
	if h.size == len(h.buf) {
		h.buf[h.start] = s
		h.start = (h.start + 1) % len(h.buf)
		return
	}
	h.buf[(h.start+h.size)%len(h.buf)] = s
	h.size++
}

// Removes and returns the most recent stroke
func (h *History) PopLast() (protocol.Stroke, bool) {
	if h.size == 0 {
		return protocol.Stroke{}, false
	}
	i := (h.start + h.size - 1) % len(h.buf)
	s := h.buf[i]
	h.buf[i] = protocol.Stroke{}
	h.size--
	return s, true
}

func (h *History) Clear() {
	clear(h.buf)
	h.start = 0
	h.size = 0
}

func (h *History) Len() int { return h.size }

func (h *History) Cap() int { return len(h.buf) }

// Returns the strokes oldest first
func (h *History) Snapshot() []protocol.Stroke {
	out := make([]protocol.Stroke, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}
