// Package scoring derives a user's bounded composite trust score from their
// completed verification sessions. The computation is deterministic and
// side-effect-free on the sessions themselves; only the derived
// CompositeScoreRecord is written.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"proofgate/internal/catalog"
	"proofgate/internal/verification/models"
	id "proofgate/pkg/domain"
	"proofgate/pkg/platform/sentinel"
)

// SessionReader is the slice of the session store the engine needs.
type SessionReader interface {
	ListCompletedByUser(ctx context.Context, userID id.UserID) ([]*models.Session, error)
}

// CompositeStore persists the derived score record.
type CompositeStore interface {
	Get(ctx context.Context, userID id.UserID) (*models.CompositeScoreRecord, error)
	Upsert(ctx context.Context, record *models.CompositeScoreRecord) error
}

// Result reports one recompute pass. NewlyCrossed is a candidate signal: it
// is true when this pass observed the threshold met while the stored record
// had no crossing stamp. Callers must still win the check-and-set on the
// crossing stamp before acting on it, since concurrent recomputes can both
// observe NewlyCrossed.
type Result struct {
	Composite            int
	Passed               bool
	NewlyCrossed         bool
	ContributingSessions []id.SessionID
}

// Engine recomputes composite scores against a passing threshold.
type Engine struct {
	sessions   SessionReader
	composites CompositeStore
	threshold  int
}

func NewEngine(sessions SessionReader, composites CompositeStore, threshold int) *Engine {
	return &Engine{
		sessions:   sessions,
		composites: composites,
		threshold:  threshold,
	}
}

// Threshold returns the configured passing threshold.
func (e *Engine) Threshold() int {
	return e.threshold
}

// ComputeComposite aggregates completed sessions into a composite score:
// the highest raw score per distinct channel counts, the rest are ignored,
// and the sum is clamped to [0, MaxCompositeScore]. Taking only the best
// attempt per channel keeps repeated low-tier attempts from stacking.
func ComputeComposite(sessions []*models.Session) (int, []id.SessionID) {
	type best struct {
		score     int
		sessionID id.SessionID
	}
	bestPerChannel := make(map[catalog.Channel]best)

	for _, session := range sessions {
		if session.State != models.StateCompleted || session.RawScore == nil {
			continue
		}
		current, seen := bestPerChannel[session.Channel]
		if !seen || *session.RawScore > current.score {
			bestPerChannel[session.Channel] = best{score: *session.RawScore, sessionID: session.ID}
		}
	}

	sum := 0
	contributing := make([]id.SessionID, 0, len(bestPerChannel))
	for _, b := range bestPerChannel {
		sum += b.score
		contributing = append(contributing, b.sessionID)
	}
	sort.Slice(contributing, func(i, j int) bool {
		return contributing[i].String() < contributing[j].String()
	})

	return models.ClampComposite(sum), contributing
}

// Recompute rereads the user's completed sessions, derives the composite,
// and upserts the score record. The crossing stamp is never written here;
// it only moves through the store's check-and-set.
func (e *Engine) Recompute(ctx context.Context, userID id.UserID, now time.Time) (Result, error) {
	completed, err := e.sessions.ListCompletedByUser(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("list completed sessions: %w", err)
	}

	composite, contributing := ComputeComposite(completed)
	passed := composite >= e.threshold

	alreadyCrossed := false
	existing, err := e.composites.Get(ctx, userID)
	switch {
	case err == nil:
		alreadyCrossed = existing.Crossed()
	case errors.Is(err, sentinel.ErrNotFound):
		// first completed session for this user, record created below
	default:
		return Result{}, fmt.Errorf("get composite record: %w", err)
	}

	record := &models.CompositeScoreRecord{
		UserID:               userID,
		Composite:            composite,
		Passed:               passed,
		ContributingSessions: contributing,
		UpdatedAt:            now,
	}
	if err := e.composites.Upsert(ctx, record); err != nil {
		return Result{}, fmt.Errorf("upsert composite record: %w", err)
	}

	return Result{
		Composite:            composite,
		Passed:               passed,
		NewlyCrossed:         passed && !alreadyCrossed,
		ContributingSessions: contributing,
	}, nil
}
