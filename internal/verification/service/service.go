// Package service contains the verification orchestrator: session creation,
// callback resolution, status projection, and retry. It owns every session
// state transition; scoring only derives, the reaper only expires, and
// stores only persist.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"proofgate/internal/audit"
	"proofgate/internal/catalog"
	"proofgate/internal/notifier"
	"proofgate/internal/scoring"
	"proofgate/internal/verification/metrics"
	"proofgate/internal/verification/signature"
	"proofgate/internal/verification/store"
	dErrors "proofgate/pkg/domain-errors"
	"proofgate/pkg/platform/sentinel"
)

// AuditSink accepts audit events without blocking the caller.
type AuditSink interface {
	Enqueue(event audit.Event) bool
}

// ReplayCache answers repeated callback deliveries from cached outcomes.
// The session row stays authoritative; a nil cache only loses the fast path.
type ReplayCache interface {
	Check(ctx context.Context, externalToken, nonce string) (store.ReplayResult, error)
	Record(ctx context.Context, externalToken, nonce string, payload []byte) error
}

// Orchestrator coordinates the verification session lifecycle.
type Orchestrator struct {
	sessions   store.SessionStore
	composites store.CompositeStore
	catalog    *catalog.Catalog
	scoring    *scoring.Engine
	verifier   signature.Verifier
	replay     ReplayCache
	notifier   notifier.Notifier
	audit      AuditSink
	metrics    *metrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewOrchestrator(
	sessions store.SessionStore,
	composites store.CompositeStore,
	cat *catalog.Catalog,
	engine *scoring.Engine,
	verifier signature.Verifier,
	replay ReplayCache,
	eligibility notifier.Notifier,
	auditSink AuditSink,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		sessions:   sessions,
		composites: composites,
		catalog:    cat,
		scoring:    engine,
		verifier:   verifier,
		replay:     replay,
		notifier:   eligibility,
		audit:      auditSink,
		metrics:    m,
		logger:     logger,
		tracer:     otel.Tracer("proofgate/verification"),
	}
}

// withStoreRetry runs a storage operation with bounded exponential backoff.
// Domain and sentinel errors are permanent; only infrastructure failures are
// retried. Exhaustion surfaces as a transient error kind, telling the caller
// "retry later" rather than "request is invalid".
func withStoreRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second

	attempt := func() error {
		err := op()
		if err == nil {
			return nil
		}
		var de *dErrors.Error
		if errors.As(err, &de) || isSentinel(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx))
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) || isSentinel(err) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "storage temporarily unavailable")
}

func isSentinel(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound) ||
		errors.Is(err, sentinel.ErrConflict) ||
		errors.Is(err, sentinel.ErrExpired) ||
		errors.Is(err, sentinel.ErrInvalidState)
}

func (o *Orchestrator) emitAudit(event audit.Event) {
	if o.audit != nil {
		o.audit.Enqueue(event)
	}
}
