package service

import (
	"context"
	"errors"
	"time"

	"proofgate/internal/audit"
	"proofgate/internal/catalog"
	"proofgate/internal/verification/models"
	id "proofgate/pkg/domain"
	dErrors "proofgate/pkg/domain-errors"
	"proofgate/pkg/platform/sentinel"
	"proofgate/pkg/requestcontext"
)

// SessionView is the read-only status projection. Expiry is computed against
// the caller's clock, so an overdue session reads as expired even before the
// reaper sweeps it.
type SessionView struct {
	SessionID     id.SessionID
	Channel       catalog.Channel
	TierLevel     int
	State         models.State
	RawScore      *int
	IsExpired     bool
	ExpiresAt     time.Time
	TimeRemaining time.Duration
	AttemptNumber int
	MaxAttempts   int
	Composite     *int
	Passed        bool
}

// CheckStatus projects a session by its external token.
func (o *Orchestrator) CheckStatus(ctx context.Context, externalToken string) (*SessionView, error) {
	ctx, span := o.tracer.Start(ctx, "verification.status")
	defer span.End()

	var session *models.Session
	err := withStoreRetry(ctx, func() error {
		var findErr error
		session, findErr = o.sessions.FindByToken(ctx, externalToken)
		return findErr
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeSessionNotFound, "no session for this token")
		}
		return nil, err
	}

	now := requestcontext.Now(ctx)
	view := &SessionView{
		SessionID:     session.ID,
		Channel:       session.Channel,
		TierLevel:     session.TierLevel,
		State:         session.State,
		RawScore:      session.RawScore,
		ExpiresAt:     session.ExpiresAt,
		AttemptNumber: session.AttemptNumber,
		MaxAttempts:   session.MaxAttempts,
		IsExpired:     session.State == models.StateExpired,
	}
	if session.Active() {
		view.TimeRemaining = session.TimeRemaining(now)
	}
	// Lazily reflect an overdue deadline without waiting for the reaper.
	if session.Active() && session.ExpiredAt(now) {
		view.State = models.StateExpired
		view.IsExpired = true
	}

	record, err := o.composites.Get(ctx, session.UserID)
	switch {
	case err == nil:
		composite := record.Composite
		view.Composite = &composite
		view.Passed = record.Passed
	case errors.Is(err, sentinel.ErrNotFound):
		// no completed sessions yet
	default:
		o.logger.Warn("composite lookup failed", "user_id", session.UserID, "error", err)
	}
	return view, nil
}

// MarkInProgress applies the caller-observed Pending -> InProgress move.
// Idempotent when already InProgress.
func (o *Orchestrator) MarkInProgress(ctx context.Context, externalToken string) error {
	ctx, span := o.tracer.Start(ctx, "verification.mark_in_progress")
	defer span.End()

	var session *models.Session
	err := withStoreRetry(ctx, func() error {
		var findErr error
		session, findErr = o.sessions.FindByToken(ctx, externalToken)
		return findErr
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeSessionNotFound, "no session for this token")
		}
		return err
	}

	if session.State == models.StateExpired {
		return dErrors.New(dErrors.CodeSessionExpired, "session expired")
	}

	now := requestcontext.Now(ctx)
	var updated *models.Session
	err = withStoreRetry(ctx, func() error {
		var txErr error
		updated, txErr = o.sessions.Transition(ctx, session.ID,
			func(s *models.Session) error { return s.CanMarkInProgress() },
			func(s *models.Session) {
				if s.ExpiredAt(now) {
					s.ApplyExpiry(now)
					return
				}
				s.ApplyInProgress()
			})
		return txErr
	})
	if err != nil {
		return err
	}

	if updated.State == models.StateExpired {
		o.metrics.IncrementSessionsExpired()
		o.emitAudit(o.sessionEvent(ctx, updated, audit.EventSessionExpired, "deadline passed before progress"))
		return dErrors.New(dErrors.CodeSessionExpired, "session expired")
	}

	o.emitAudit(o.sessionEvent(ctx, updated, audit.EventSessionInProgress, ""))
	return nil
}
