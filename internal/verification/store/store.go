// Package store defines the persistence boundary for verification sessions
// and composite scores. The interfaces are deliberately narrow and every
// write that enforces an invariant is an atomic conditional operation, so
// multiple orchestrator instances can run against the same backing store
// without in-process locks.
//
// Implementations return pkg/platform/sentinel errors; the service layer
// translates them into domain errors.
package store

import (
	"context"
	"time"

	"proofgate/internal/catalog"
	"proofgate/internal/verification/models"
	id "proofgate/pkg/domain"
)

// SessionStore persists verification sessions.
type SessionStore interface {
	// CreateIfNoneActive inserts the session only if no Pending or
	// InProgress session exists for the same (user, channel). Returns
	// sentinel.ErrConflict when an active session occupies the slot or the
	// external token collides.
	CreateIfNoneActive(ctx context.Context, session *models.Session) error

	FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error)

	// FindByToken looks a session up by its external token, the only
	// identifier the external verifier holds.
	FindByToken(ctx context.Context, externalToken string) (*models.Session, error)

	// FindLatest returns the most recently created session for the given
	// (user, channel, tier), or sentinel.ErrNotFound.
	FindLatest(ctx context.Context, userID id.UserID, channel catalog.Channel, tier int) (*models.Session, error)

	// FindCompletedTier reports whether the user has a Completed session at
	// the given (channel, tier); used for tier gating.
	FindCompletedTier(ctx context.Context, userID id.UserID, channel catalog.Channel, tier int) (bool, error)

	ListCompletedByUser(ctx context.Context, userID id.UserID) ([]*models.Session, error)

	// ListExpiredCandidates returns up to limit sessions that are still
	// Pending or InProgress but whose deadline has passed.
	ListExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]id.SessionID, error)

	// Transition atomically applies a state change: the session is loaded
	// and locked, validate runs against the current state (returning an
	// error aborts without mutation), mutate applies the change, and the
	// result is persisted before the lock is released. This is how
	// "transition only if still non-terminal" stays race-free.
	Transition(ctx context.Context, sessionID id.SessionID,
		validate func(*models.Session) error,
		mutate func(*models.Session)) (*models.Session, error)
}

// CompositeStore persists the derived per-user score record.
type CompositeStore interface {
	Get(ctx context.Context, userID id.UserID) (*models.CompositeScoreRecord, error)

	// Upsert writes the recomputed composite, passed flag, and contributing
	// set. It never touches ThresholdCrossedAt; that field only moves
	// through MarkThresholdCrossed.
	Upsert(ctx context.Context, record *models.CompositeScoreRecord) error

	// MarkThresholdCrossed sets ThresholdCrossedAt if and only if it is
	// still null, returning whether this caller won the race. Exactly one
	// of any number of concurrent callers observes true.
	MarkThresholdCrossed(ctx context.Context, userID id.UserID, at time.Time) (bool, error)
}
