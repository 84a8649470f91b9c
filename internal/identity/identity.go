package identity

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/manpreetbhatti/sketchroom/internal/protocol"
)

// Cursor and avatar colors handed to participants
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
	"#FF8A80", "#82B1FF", "#B9F6CA", "#FFD180",
}

const namePrefix = "participant "

var namePattern = regexp.MustCompile(`^participant ([1-9][0-9]*)$`)

// Allocator hands out connection ids, colors and per-room display names
type Allocator struct {
	palette []string
	rng     *rand.Rand
	mu      sync.Mutex
}

// A nil or empty palette falls back to Palette
func NewAllocator(palette []string) *Allocator {
	return NewAllocatorWithSource(palette, rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Like NewAllocator with a fixed random source, for reproducible colors
func NewAllocatorWithSource(palette []string, src rand.Source) *Allocator {
	if len(palette) == 0 {
		palette = Palette
	}
	return &Allocator{
		palette: palette,
		rng:     rand.New(src),
	}
}

// Returns a fresh connection id
func (a *Allocator) NewID() string {
	return uuid.NewString()
}

// Picks a palette color uniformly; repeats across participants are fine
func (a *Allocator) Color() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.palette[a.rng.IntN(len(a.palette))]
}

// Returns "participant N" for the smallest N not taken in the roster
func (a *Allocator) Name(roster []protocol.User) string {
	used := make(map[int]bool, len(roster))
	for _, u := range roster {
		if n, ok := ParseName(u.UserName); ok {
			used[n] = true
		}
	}

	n := 1
	for used[n] {
		n++
	}
	return FormatName(n)
}

func FormatName(n int) string {
	return fmt.Sprintf("%s%d", namePrefix, n)
}

// Extracts N from "participant N"
func ParseName(name string) (int, bool) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
