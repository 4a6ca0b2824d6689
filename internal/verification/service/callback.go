package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"proofgate/internal/audit"
	"proofgate/internal/notifier"
	"proofgate/internal/scoring"
	"proofgate/internal/verification/models"
	"proofgate/internal/verification/store"
	id "proofgate/pkg/domain"
	dErrors "proofgate/pkg/domain-errors"
	"proofgate/pkg/platform/sentinel"
	"proofgate/pkg/requestcontext"
)

// Outcome is the recorded result of a resolved callback. Replayed outcomes
// are byte-for-byte what the first delivery produced.
type Outcome struct {
	SessionID id.SessionID `json:"session_id"`
	State     models.State `json:"state"`
	RawScore  *int         `json:"raw_score"`
	Composite int          `json:"composite"`
	Passed    bool         `json:"passed"`
	Replayed  bool         `json:"replayed"`
}

// HandleCallback resolves a signed verifier callback. Signature failures
// mutate nothing. Replays of an already-resolved session return the stored
// outcome; a nonce mismatch on a resolved session is a replay conflict and
// also mutates nothing.
func (o *Orchestrator) HandleCallback(ctx context.Context, externalToken string, rawScore int, nonce, sig string) (*Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "verification.callback")
	defer span.End()

	started := time.Now()
	defer func() { o.metrics.ObserveCallbackLatency(time.Since(started)) }()

	if err := o.verifier.Verify(externalToken, rawScore, nonce, sig); err != nil {
		o.metrics.IncrementCallbackOutcome("rejected")
		o.emitAudit(audit.Event{
			Category:  audit.EventCallbackRejected.Category(),
			Timestamp: requestcontext.Now(ctx),
			Action:    string(audit.EventCallbackRejected),
			Reason:    "signature verification failed",
			RequestID: requestcontext.RequestID(ctx),
		})
		o.logger.Warn("callback rejected", "request_id", requestcontext.RequestID(ctx))
		return nil, err
	}

	if outcome, err := o.checkReplayCache(ctx, externalToken, nonce); outcome != nil || err != nil {
		return outcome, err
	}

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
	span.SetAttributes(
		attribute.String("channel", string(session.Channel)),
		attribute.Int("tier", session.TierLevel),
	)

	if session.Terminal() {
		return o.terminalOutcome(ctx, session, nonce)
	}

	spec, err := o.catalog.Describe(session.Channel, session.TierLevel)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	clamped := models.ClampRaw(rawScore, spec.ScoreMin, spec.ScoreMax)
	passed := clamped >= spec.PassingCutoff

	var resolved *models.Session
	err = withStoreRetry(ctx, func() error {
		var txErr error
		resolved, txErr = o.sessions.Transition(ctx, session.ID,
			func(s *models.Session) error { return s.CanResolve() },
			func(s *models.Session) {
				if s.ExpiredAt(now) {
					s.ApplyExpiry(now)
					return
				}
				s.ApplyResult(clamped, passed, nonce, now)
			})
		return txErr
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeSessionTerminal) {
			// A racing delivery resolved the session first; classify this
			// one as replay or conflict against the committed state.
			err = withStoreRetry(ctx, func() error {
				var findErr error
				session, findErr = o.sessions.FindByID(ctx, session.ID)
				return findErr
			})
			if err != nil {
				return nil, err
			}
			return o.terminalOutcome(ctx, session, nonce)
		}
		return nil, err
	}

	if resolved.State == models.StateExpired {
		o.metrics.IncrementCallbackOutcome("expired")
		o.metrics.IncrementSessionsExpired()
		o.emitAudit(o.sessionEvent(ctx, resolved, audit.EventSessionExpired, "callback arrived after deadline"))
		return nil, dErrors.New(dErrors.CodeSessionExpired, "session expired before the callback arrived")
	}

	outcome := &Outcome{
		SessionID: resolved.ID,
		State:     resolved.State,
		RawScore:  resolved.RawScore,
	}

	if resolved.State == models.StateCompleted {
		o.metrics.IncrementCallbackOutcome("completed")
		o.emitAudit(o.sessionEvent(ctx, resolved, audit.EventSessionCompleted, ""))
		if err := o.onCompleted(ctx, resolved, outcome); err != nil {
			return nil, err
		}
	} else {
		o.metrics.IncrementCallbackOutcome("failed")
		o.emitAudit(o.sessionEvent(ctx, resolved, audit.EventSessionFailed, "raw score below cutoff"))
		o.fillComposite(ctx, resolved.UserID, outcome)
	}

	o.recordReplay(ctx, externalToken, nonce, outcome)
	o.logger.Info("callback resolved",
		"session_id", resolved.ID,
		"state", resolved.State,
		"raw_score", clamped,
		"composite", outcome.Composite,
	)
	return outcome, nil
}

// onCompleted recomputes the composite and fires the one-time eligibility
// notification when this recompute newly crossed the threshold. The
// check-and-set on the crossing stamp arbitrates racing recomputes; only
// the winner notifies.
func (o *Orchestrator) onCompleted(ctx context.Context, session *models.Session, outcome *Outcome) error {
	now := requestcontext.Now(ctx)

	var result scoring.Result
	err := withStoreRetry(ctx, func() error {
		var scoreErr error
		result, scoreErr = o.scoring.Recompute(ctx, session.UserID, now)
		return scoreErr
	})
	if err != nil {
		return err
	}
	outcome.Composite = result.Composite
	outcome.Passed = result.Passed
	o.metrics.ObserveCompositeScore(result.Composite)

	if !result.NewlyCrossed {
		return nil
	}

	var won bool
	err = withStoreRetry(ctx, func() error {
		var casErr error
		won, casErr = o.composites.MarkThresholdCrossed(ctx, session.UserID, now)
		return casErr
	})
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	o.metrics.IncrementThresholdCrossings()
	o.emitAudit(audit.Event{
		Category:  audit.EventThresholdCrossed.Category(),
		Timestamp: now,
		UserID:    session.UserID,
		SessionID: session.ID,
		Channel:   string(session.Channel),
		Action:    string(audit.EventThresholdCrossed),
		Composite: result.Composite,
		RequestID: requestcontext.RequestID(ctx),
	})

	snapshot := notifier.Snapshot{Composite: result.Composite, Passed: result.Passed, CrossedAt: now}
	if err := o.notifier.Notify(ctx, session.UserID, snapshot); err != nil {
		// The transition and the crossing stamp are already committed;
		// delivery loss is audited, never rolled back.
		o.emitAudit(audit.Event{
			Category:  audit.EventEligibilityNotifyFail.Category(),
			Timestamp: now,
			UserID:    session.UserID,
			Action:    string(audit.EventEligibilityNotifyFail),
			Reason:    err.Error(),
			Composite: result.Composite,
		})
		o.logger.Error("eligibility notification not enqueued", "user_id", session.UserID, "error", err)
	} else {
		o.emitAudit(audit.Event{
			Category:  audit.EventEligibilityNotified.Category(),
			Timestamp: now,
			UserID:    session.UserID,
			Action:    string(audit.EventEligibilityNotified),
			Composite: result.Composite,
		})
	}
	return nil
}

// terminalOutcome classifies a callback against an already-resolved session:
// expired sessions report expiry, a matching nonce replays the stored outcome,
// anything else is a conflict.
func (o *Orchestrator) terminalOutcome(ctx context.Context, session *models.Session, nonce string) (*Outcome, error) {
	if session.State == models.StateExpired {
		o.metrics.IncrementCallbackOutcome("expired")
		o.logger.Info("callback for expired session", "session_id", session.ID)
		return nil, dErrors.New(dErrors.CodeSessionExpired, "session expired before the callback arrived")
	}
	if session.Nonce == "" || session.Nonce != nonce {
		o.metrics.IncrementCallbackOutcome("conflict")
		o.emitAudit(o.sessionEvent(ctx, session, audit.EventReplayConflict, "nonce mismatch on resolved session"))
		o.logger.Warn("replay conflict", "session_id", session.ID)
		return nil, dErrors.New(dErrors.CodeReplayConflict, "session already resolved by a different callback")
	}

	outcome := &Outcome{
		SessionID: session.ID,
		State:     session.State,
		RawScore:  session.RawScore,
		Replayed:  true,
	}
	o.fillComposite(ctx, session.UserID, outcome)
	o.metrics.IncrementCallbackOutcome("replay")
	o.emitAudit(o.sessionEvent(ctx, session, audit.EventCallbackReplayed, ""))
	return outcome, nil
}

// checkReplayCache consults the Redis fast path. Cache errors degrade to the
// authoritative store path instead of failing the callback.
func (o *Orchestrator) checkReplayCache(ctx context.Context, externalToken, nonce string) (*Outcome, error) {
	if o.replay == nil {
		return nil, nil
	}
	result, err := o.replay.Check(ctx, externalToken, nonce)
	if err != nil {
		o.logger.Warn("replay cache check failed", "error", err)
		return nil, nil
	}
	switch result.State {
	case store.ReplayStateReplay:
		var outcome Outcome
		if err := json.Unmarshal(result.Payload, &outcome); err != nil {
			o.logger.Warn("replay cache payload corrupt", "error", err)
			return nil, nil
		}
		outcome.Replayed = true
		o.metrics.IncrementCallbackOutcome("replay")
		o.emitAudit(audit.Event{
			Category:  audit.EventCallbackReplayed.Category(),
			Timestamp: requestcontext.Now(ctx),
			SessionID: outcome.SessionID,
			Action:    string(audit.EventCallbackReplayed),
			RequestID: requestcontext.RequestID(ctx),
		})
		return &outcome, nil
	case store.ReplayStateConflict:
		o.metrics.IncrementCallbackOutcome("conflict")
		o.emitAudit(audit.Event{
			Category:  audit.EventReplayConflict.Category(),
			Timestamp: requestcontext.Now(ctx),
			Action:    string(audit.EventReplayConflict),
			Reason:    "nonce mismatch on recorded callback",
			RequestID: requestcontext.RequestID(ctx),
		})
		return nil, dErrors.New(dErrors.CodeReplayConflict, "session already resolved by a different callback")
	default:
		return nil, nil
	}
}

func (o *Orchestrator) recordReplay(ctx context.Context, externalToken, nonce string, outcome *Outcome) {
	if o.replay == nil {
		return
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		return
	}
	if err := o.replay.Record(ctx, externalToken, nonce, payload); err != nil {
		o.logger.Warn("replay cache record failed", "error", err)
	}
}

func (o *Orchestrator) fillComposite(ctx context.Context, userID id.UserID, outcome *Outcome) {
	record, err := o.composites.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			o.logger.Warn("composite lookup failed", "user_id", userID, "error", err)
		}
		return
	}
	outcome.Composite = record.Composite
	outcome.Passed = record.Passed
}

func (o *Orchestrator) sessionEvent(ctx context.Context, session *models.Session, action audit.AuditEvent, reason string) audit.Event {
	event := audit.Event{
		Category:  action.Category(),
		Timestamp: requestcontext.Now(ctx),
		UserID:    session.UserID,
		SessionID: session.ID,
		Channel:   string(session.Channel),
		Action:    string(action),
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	}
	if session.RawScore != nil {
		event.RawScore = *session.RawScore
	}
	return event
}
