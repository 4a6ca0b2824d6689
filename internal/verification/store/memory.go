package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"proofgate/internal/catalog"
	"proofgate/internal/verification/models"
	id "proofgate/pkg/domain"
	"proofgate/pkg/platform/sentinel"
)

// InMemorySessionStore keeps sessions in process memory. It favors clarity
// over performance and is the store used by unit tests and single-node
// development; the mutex gives it the same conditional-write semantics the
// Postgres store gets from row locks.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*models.Session
	byToken  map[string]id.SessionID
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[id.SessionID]*models.Session),
		byToken:  make(map[string]id.SessionID),
	}
}

func (s *InMemorySessionStore) CreateIfNoneActive(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byToken[session.ExternalToken]; exists {
		return sentinel.ErrConflict
	}
	for _, existing := range s.sessions {
		if existing.UserID == session.UserID && existing.Channel == session.Channel && existing.Active() {
			return sentinel.ErrConflict
		}
	}

	copied := *session
	s.sessions[session.ID] = &copied
	s.byToken[session.ExternalToken] = session.ID
	return nil
}

func (s *InMemorySessionStore) FindByID(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneLocked(sessionID)
}

func (s *InMemorySessionStore) FindByToken(_ context.Context, externalToken string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessionID, ok := s.byToken[externalToken]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.cloneLocked(sessionID)
}

func (s *InMemorySessionStore) FindLatest(_ context.Context, userID id.UserID, channel catalog.Channel, tier int) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Session
	for _, session := range s.sessions {
		if session.UserID != userID || session.Channel != channel || session.TierLevel != tier {
			continue
		}
		if latest == nil || session.CreatedAt.After(latest.CreatedAt) ||
			(session.CreatedAt.Equal(latest.CreatedAt) && session.AttemptNumber > latest.AttemptNumber) {
			latest = session
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *InMemorySessionStore) FindCompletedTier(_ context.Context, userID id.UserID, channel catalog.Channel, tier int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.UserID == userID && session.Channel == channel &&
			session.TierLevel == tier && session.State == models.StateCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemorySessionStore) ListCompletedByUser(_ context.Context, userID id.UserID) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Session
	for _, session := range s.sessions {
		if session.UserID == userID && session.State == models.StateCompleted {
			copied := *session
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemorySessionStore) ListExpiredCandidates(_ context.Context, now time.Time, limit int) ([]id.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var overdue []*models.Session
	for _, session := range s.sessions {
		if session.Active() && session.ExpiredAt(now) {
			overdue = append(overdue, session)
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].ExpiresAt.Before(overdue[j].ExpiresAt) })
	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}
	out := make([]id.SessionID, 0, len(overdue))
	for _, session := range overdue {
		out = append(out, session.ID)
	}
	return out, nil
}

func (s *InMemorySessionStore) Transition(_ context.Context, sessionID id.SessionID,
	validate func(*models.Session) error,
	mutate func(*models.Session)) (*models.Session, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	// Validate and mutate a working copy so a validation error leaves the
	// stored record untouched.
	working := *session
	if err := validate(&working); err != nil {
		return nil, err
	}
	mutate(&working)
	s.sessions[sessionID] = &working

	copied := working
	return &copied, nil
}

func (s *InMemorySessionStore) cloneLocked(sessionID id.SessionID) (*models.Session, error) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

// InMemoryCompositeStore keeps composite score records in process memory.
type InMemoryCompositeStore struct {
	mu      sync.RWMutex
	records map[id.UserID]*models.CompositeScoreRecord
}

func NewInMemoryCompositeStore() *InMemoryCompositeStore {
	return &InMemoryCompositeStore{records: make(map[id.UserID]*models.CompositeScoreRecord)}
}

func (s *InMemoryCompositeStore) Get(_ context.Context, userID id.UserID) (*models.CompositeScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := cloneComposite(record)
	return copied, nil
}

func (s *InMemoryCompositeStore) Upsert(_ context.Context, record *models.CompositeScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := cloneComposite(record)
	if existing, ok := s.records[record.UserID]; ok {
		// The crossing stamp only moves through MarkThresholdCrossed.
		copied.ThresholdCrossedAt = existing.ThresholdCrossedAt
	} else {
		copied.ThresholdCrossedAt = nil
	}
	s.records[record.UserID] = copied
	return nil
}

func (s *InMemoryCompositeStore) MarkThresholdCrossed(_ context.Context, userID id.UserID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[userID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if record.ThresholdCrossedAt != nil {
		return false, nil
	}
	crossed := at
	record.ThresholdCrossedAt = &crossed
	return true, nil
}

func cloneComposite(record *models.CompositeScoreRecord) *models.CompositeScoreRecord {
	copied := *record
	copied.ContributingSessions = append([]id.SessionID(nil), record.ContributingSessions...)
	if record.ThresholdCrossedAt != nil {
		at := *record.ThresholdCrossedAt
		copied.ThresholdCrossedAt = &at
	}
	return &copied
}
