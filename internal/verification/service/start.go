package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"proofgate/internal/audit"
	"proofgate/internal/catalog"
	"proofgate/internal/verification/models"
	id "proofgate/pkg/domain"
	dErrors "proofgate/pkg/domain-errors"
	"proofgate/pkg/platform/sentinel"
	"proofgate/pkg/requestcontext"
)

// Start creates a Pending session for (user, channel, tier). The
// one-active-session invariant is enforced twice: a fast pre-check against
// the latest session, and the store's conditional insert which is the
// authoritative arbiter under concurrency.
func (o *Orchestrator) Start(ctx context.Context, userID id.UserID, channel catalog.Channel, tier int) (*models.Session, error) {
	ctx, span := o.tracer.Start(ctx, "verification.start", trace.WithAttributes(
		attribute.String("channel", string(channel)),
		attribute.Int("tier", tier),
	))
	defer span.End()

	spec, err := o.catalog.Describe(channel, tier)
	if err != nil {
		return nil, err
	}

	if err := o.checkTierGate(ctx, userID, channel, spec); err != nil {
		return nil, err
	}

	attempt := 1
	var latest *models.Session
	err = withStoreRetry(ctx, func() error {
		var findErr error
		latest, findErr = o.sessions.FindLatest(ctx, userID, channel, tier)
		return findErr
	})
	switch {
	case err == nil:
		if latest.Active() {
			return nil, dErrors.New(dErrors.CodeSessionAlreadyActive, "an active session already exists for this channel")
		}
		if latest.AttemptNumber >= latest.MaxAttempts {
			return nil, dErrors.New(dErrors.CodeAttemptsExhausted, "attempt limit reached for this channel tier")
		}
		attempt = latest.AttemptNumber + 1
	case errors.Is(err, sentinel.ErrNotFound):
		// first attempt
	default:
		return nil, err
	}

	return o.create(ctx, userID, channel, spec, attempt)
}

// Retry opens a fresh attempt after a Failed or Expired one. It behaves as
// Start with an incremented attempt number.
func (o *Orchestrator) Retry(ctx context.Context, userID id.UserID, channel catalog.Channel, tier int) (*models.Session, error) {
	ctx, span := o.tracer.Start(ctx, "verification.retry", trace.WithAttributes(
		attribute.String("channel", string(channel)),
		attribute.Int("tier", tier),
	))
	defer span.End()

	spec, err := o.catalog.Describe(channel, tier)
	if err != nil {
		return nil, err
	}

	var latest *models.Session
	err = withStoreRetry(ctx, func() error {
		var findErr error
		latest, findErr = o.sessions.FindLatest(ctx, userID, channel, tier)
		return findErr
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeSessionNotFound, "no previous attempt to retry")
		}
		return nil, err
	}

	if err := latest.CanRetry(); err != nil {
		return nil, err
	}

	session, err := o.create(ctx, userID, channel, spec, latest.AttemptNumber+1)
	if err != nil {
		return nil, err
	}

	o.emitAudit(audit.Event{
		Category:  audit.EventSessionRetried.Category(),
		Timestamp: requestcontext.Now(ctx),
		UserID:    userID,
		SessionID: session.ID,
		Channel:   string(channel),
		Action:    string(audit.EventSessionRetried),
		Reason:    fmt.Sprintf("attempt %d of %d", session.AttemptNumber, session.MaxAttempts),
		RequestID: requestcontext.RequestID(ctx),
	})
	return session, nil
}

func (o *Orchestrator) checkTierGate(ctx context.Context, userID id.UserID, channel catalog.Channel, spec catalog.TierSpec) error {
	if spec.RequiredPriorTier == 0 {
		return nil
	}
	var completed bool
	err := withStoreRetry(ctx, func() error {
		var checkErr error
		completed, checkErr = o.sessions.FindCompletedTier(ctx, userID, channel, spec.RequiredPriorTier)
		return checkErr
	})
	if err != nil {
		return err
	}
	if !completed {
		return dErrors.New(dErrors.CodeTierLocked,
			fmt.Sprintf("tier %d requires tier %d to be completed first", spec.Tier, spec.RequiredPriorTier))
	}
	return nil
}

func (o *Orchestrator) create(ctx context.Context, userID id.UserID, channel catalog.Channel, spec catalog.TierSpec, attempt int) (*models.Session, error) {
	now := requestcontext.Now(ctx)
	session, err := models.NewSession(userID, channel, spec, attempt, now)
	if err != nil {
		return nil, err
	}

	err = withStoreRetry(ctx, func() error {
		return o.sessions.CreateIfNoneActive(ctx, session)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeSessionAlreadyActive, "an active session already exists for this channel")
		}
		return nil, err
	}

	o.metrics.IncrementSessionsStarted(string(channel), strconv.Itoa(spec.Tier))
	o.emitAudit(audit.Event{
		Category:  audit.EventSessionStarted.Category(),
		Timestamp: now,
		UserID:    userID,
		SessionID: session.ID,
		Channel:   string(channel),
		Action:    string(audit.EventSessionStarted),
		RequestID: requestcontext.RequestID(ctx),
	})
	o.logger.Info("verification session started",
		"session_id", session.ID,
		"channel", channel,
		"tier", spec.Tier,
		"attempt", attempt,
		"expires_at", session.ExpiresAt,
	)
	return session, nil
}
