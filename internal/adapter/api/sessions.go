package api

import (
	"itinerary-core/internal/usecase"
	"sync"
	"time"
)

const (
	SessionHeader  = "X-Session-ID"
	defaultSession = "default"
)

// CoordinatorFactory builds the coordinator for a newly seen session.
type CoordinatorFactory func(sessionID string) *usecase.Coordinator

type session struct {
	coord    *usecase.Coordinator
	lastSeen time.Time
}

// Sessions hands out one coordinator per caller session.
type Sessions struct {
	mu      sync.Mutex
	items   map[string]*session
	factory CoordinatorFactory
	now     func() time.Time
}

func NewSessions(factory CoordinatorFactory) *Sessions {
	return &Sessions{
		items:   make(map[string]*session),
		factory: factory,
		now:     time.Now,
	}
}

func (s *Sessions) Get(sessionID string) *usecase.Coordinator {
	if sessionID == "" {
		sessionID = defaultSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[sessionID]
	if !ok {
		entry = &session{coord: s.factory(sessionID)}
		s.items[sessionID] = entry
	}
	entry.lastSeen = s.now()
	return entry.coord
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Evict drops sessions not requested for longer than idle whose coordinator
// has no run in flight and no subscribers. It returns the number dropped.
func (s *Sessions) Evict(idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	var dropped []*usecase.Coordinator
	for id, entry := range s.items {
		if entry.lastSeen.After(cutoff) || entry.coord.Busy() {
			continue
		}
		delete(s.items, id)
		dropped = append(dropped, entry.coord)
	}
	s.mu.Unlock()

	// Stops a pending error auto-clear timer.
	for _, c := range dropped {
		c.Cancel()
	}
	return len(dropped)
}

// Shutdown cancels every in-flight run and waits for them to return.
func (s *Sessions) Shutdown() {
	s.mu.Lock()
	all := make([]*usecase.Coordinator, 0, len(s.items))
	for _, entry := range s.items {
		all = append(all, entry.coord)
	}
	s.mu.Unlock()

	for _, c := range all {
		c.Cancel()
	}
	for _, c := range all {
		c.Wait()
	}
}
