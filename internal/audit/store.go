package audit

import (
	"context"
	"sync"

	id "proofgate/pkg/domain"
)

// Appender is an append-only sink for audit events.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Store is an Appender that also supports per-user reads.
type Store interface {
	Appender
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}

// Tee fans each event out to every sink. The first error stops the fan-out.
type Tee []Appender

func (t Tee) Append(ctx context.Context, event Event) error {
	for _, sink := range t {
		if err := sink.Append(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.UserID][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.UserID][]Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.UserID][]Event)
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.UserID] = append(s.events[event.UserID], event)
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[userID]...), nil
}
