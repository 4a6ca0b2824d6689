// Package reaper sweeps overdue sessions to Expired on a fixed interval.
// The sweep is a liveness optimization: the orchestrator computes expiry
// lazily on every read and callback, so correctness never depends on the
// reaper's timing.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"proofgate/internal/audit"
	"proofgate/internal/verification/metrics"
	"proofgate/internal/verification/models"
	"proofgate/internal/verification/store"
)

// AuditSink accepts audit events without blocking.
type AuditSink interface {
	Enqueue(event audit.Event) bool
}

// Reaper expires overdue sessions one atomic transition at a time. It never
// holds a lock across sessions, so a long batch cannot stall callbacks.
type Reaper struct {
	sessions  store.SessionStore
	interval  time.Duration
	batchSize int
	audit     AuditSink
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(sessions store.SessionStore, interval time.Duration, batchSize int, auditSink AuditSink, m *metrics.Metrics, logger *slog.Logger) *Reaper {
	return &Reaper{
		sessions:  sessions,
		interval:  interval,
		batchSize: batchSize,
		audit:     auditSink,
		metrics:   m,
		logger:    logger,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. A failed
// sweep is logged and retried on the next tick rather than stopping the loop.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.SweepAt(ctx, time.Now()); err != nil {
				r.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// SweepAt expires every overdue session found at the given instant and
// returns how many transitions committed. Exported for testability;
// background sweeps pass wall-clock time.
func (r *Reaper) SweepAt(ctx context.Context, now time.Time) (int, error) {
	candidates, err := r.sessions.ListExpiredCandidates(ctx, now, r.batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sessionID := range candidates {
		session, err := r.sessions.Transition(ctx, sessionID,
			func(s *models.Session) error {
				if err := s.CanResolve(); err != nil {
					// A callback or a concurrent sweep resolved it first.
					return err
				}
				return nil
			},
			func(s *models.Session) { s.ApplyExpiry(now) })
		if err != nil {
			// Losing the race to a callback is expected, not an error.
			continue
		}

		expired++
		r.metrics.IncrementSessionsExpired()
		if r.audit != nil {
			r.audit.Enqueue(audit.Event{
				Category:  audit.EventSessionExpired.Category(),
				Timestamp: now,
				UserID:    session.UserID,
				SessionID: session.ID,
				Channel:   string(session.Channel),
				Action:    string(audit.EventSessionExpired),
				Reason:    "reaper sweep",
			})
		}
	}

	if expired > 0 {
		r.logger.Info("expiry sweep complete", "expired", expired, "candidates", len(candidates))
	}
	return expired, nil
}
