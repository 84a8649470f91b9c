package retention

import (
	"log"
	"sync"
	"time"
)

type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: time.Hour,
		MaxAge:   30 * 24 * time.Hour,
	}
}

// Store is the part of the archive that retention prunes
type Store interface {
	DeleteSessionsBefore(cutoff time.Time) (int64, error)
	DeleteIdleRooms(cutoff time.Time) (int64, error)
}

// Result of a single prune pass
type Result struct {
	Cutoff   time.Time
	Sessions int64
	Rooms    int64
}

type Service struct {
	store  Store
	config Config
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// Now is the clock used for cutoffs; tests replace it
	Now func() time.Time
}

func New(store Store, config Config) *Service {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = defaults.MaxAge
	}
	return &Service{
		store:  store,
		config: config,
		stop:   make(chan struct{}),
		Now:    time.Now,
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("🧹 Retention service started (interval: %v, max age: %v)",
		s.config.Interval, s.config.MaxAge)
}

func (s *Service) Stop() {
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		log.Println("🧹 Retention service stopped")
	})
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.prune()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.prune()
		}
	}
}

func (s *Service) prune() {
	result, err := s.PruneNow()
	if err != nil {
		log.Printf("Retention: prune failed: %v", err)
		return
	}
	if result.Sessions > 0 || result.Rooms > 0 {
		log.Printf("🧹 Pruned %d sessions and %d idle rooms older than %s",
			result.Sessions, result.Rooms, result.Cutoff.Format(time.RFC3339))
	}
}

// PruneNow removes archive rows older than MaxAge. Sessions go first so
// rooms whose last session was just pruned can be removed in the same pass.
func (s *Service) PruneNow() (Result, error) {
	result := Result{Cutoff: s.Now().Add(-s.config.MaxAge)}

	sessions, err := s.store.DeleteSessionsBefore(result.Cutoff)
	if err != nil {
		return result, err
	}
	result.Sessions = sessions

	rooms, err := s.store.DeleteIdleRooms(result.Cutoff)
	if err != nil {
		return result, err
	}
	result.Rooms = rooms

	return result, nil
}
