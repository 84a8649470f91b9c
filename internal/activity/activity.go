package activity

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	RoomOpened   Kind = "room_opened"
	RoomClosed   Kind = "room_closed"
	UserJoined   Kind = "user_joined"
	UserLeft     Kind = "user_left"
	StrokeAdded  Kind = "stroke_added"
	StrokeUndone Kind = "stroke_undone"
	RoomCleared  Kind = "room_cleared"
)

// One thing that happened in a room. Users is the member count after it.
type Event struct {
	Kind   Kind
	RoomID string
	Users  int
	At     time.Time
}

// Counter deltas applied to a room's archive record
type Counters struct {
	Strokes int
	Undos   int
	Clears  int
	Joins   int
}

// Summary of one open-to-empty lifetime of a room
type Session struct {
	RoomID    string
	OpenedAt  time.Time
	ClosedAt  time.Time
	PeakUsers int
	Strokes   int
}

// Where recorded activity ends up
type Store interface {
	OpenSession(roomID string, at time.Time) error
	CloseSession(s Session) error
	AddActivity(roomID string, delta Counters, at time.Time) error
}

// Recorder moves activity off the relay loop. Record never blocks;
// when the buffer is full the event is dropped and counted.
type Recorder struct {
	store   Store
	events  chan Event
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
	written atomic.Int64

	// Owned by the worker goroutine
	open map[string]*Session
}

func New(store Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Recorder{
		store:  store,
		events: make(chan Event, buffer),
		stop:   make(chan struct{}),
		open:   make(map[string]*Session),
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
	log.Printf("📝 Activity recorder started (buffer: %d)", cap(r.events))
}

// Stops the worker after flushing whatever is already queued
func (r *Recorder) Stop() {
	r.once.Do(func() {
		close(r.stop)
		r.wg.Wait()
		log.Printf("📝 Activity recorder stopped (written: %d, dropped: %d)", r.written.Load(), r.dropped.Load())
	})
}

func (r *Recorder) Record(e Event) {
	select {
	case r.events <- e:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) Written() int64 { return r.written.Load() }

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case e := <-r.events:
			r.apply(e)
		case <-r.stop:
			for {
				select {
				case e := <-r.events:
					r.apply(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) apply(e Event) {
	if err := r.write(e); err != nil {
		log.Printf("Activity: failed to record %s for room %s: %v", e.Kind, e.RoomID, err)
		return
	}
	r.written.Add(1)
}

func (r *Recorder) write(e Event) error {
	session := r.open[e.RoomID]

	switch e.Kind {
	case RoomOpened:
		r.open[e.RoomID] = &Session{RoomID: e.RoomID, OpenedAt: e.At, PeakUsers: e.Users}
		return r.store.OpenSession(e.RoomID, e.At)

	case RoomClosed:
		delete(r.open, e.RoomID)
		if session == nil {
			return nil
		}
		session.ClosedAt = e.At
		return r.store.CloseSession(*session)

	case UserJoined:
		if session != nil && e.Users > session.PeakUsers {
			session.PeakUsers = e.Users
		}
		return r.store.AddActivity(e.RoomID, Counters{Joins: 1}, e.At)

	case UserLeft:
		return nil

	case StrokeAdded:
		if session != nil {
			session.Strokes++
		}
		return r.store.AddActivity(e.RoomID, Counters{Strokes: 1}, e.At)

	case StrokeUndone:
		return r.store.AddActivity(e.RoomID, Counters{Undos: 1}, e.At)

	case RoomCleared:
		return r.store.AddActivity(e.RoomID, Counters{Clears: 1}, e.At)
	}
	return nil
}
