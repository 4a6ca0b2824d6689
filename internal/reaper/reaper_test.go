package reaper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofgate/internal/audit"
	"proofgate/internal/catalog"
	"proofgate/internal/verification/models"
	"proofgate/internal/verification/store"
	id "proofgate/pkg/domain"
)

type captureSink struct {
	events []audit.Event
}

func (c *captureSink) Enqueue(event audit.Event) bool {
	c.events = append(c.events, event)
	return true
}

func newSession(t *testing.T, sessions *store.InMemorySessionStore, expiry time.Duration, now time.Time) *models.Session {
	t.Helper()
	spec := catalog.TierSpec{Tier: 1, ScoreMax: 100, PassingCutoff: 50, Expiry: expiry, MaxAttempts: 3}
	session, err := models.NewSession(id.UserID(uuid.New()), catalog.ChannelPhone, spec, 1, now)
	require.NoError(t, err)
	require.NoError(t, sessions.CreateIfNoneActive(context.Background(), session))
	return session
}

func TestSweepAt(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("expires only overdue sessions", func(t *testing.T) {
		sessions := store.NewInMemorySessionStore()
		sink := &captureSink{}
		overdue := newSession(t, sessions, 30*time.Minute, now)
		fresh := newSession(t, sessions, 4*time.Hour, now)

		r := New(sessions, time.Minute, 100, sink, nil, logger)
		expired, err := r.SweepAt(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, expired)

		stored, err := sessions.FindByID(ctx, overdue.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateExpired, stored.State)

		stored, err = sessions.FindByID(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatePending, stored.State)

		require.Len(t, sink.events, 1)
		assert.Equal(t, string(audit.EventSessionExpired), sink.events[0].Action)
		assert.Equal(t, overdue.ID, sink.events[0].SessionID)
	})

	t.Run("resolved session loses the race quietly", func(t *testing.T) {
		sessions := store.NewInMemorySessionStore()
		sink := &captureSink{}
		session := newSession(t, sessions, 30*time.Minute, now)

		// A callback resolves the session between listing and transition.
		_, err := sessions.Transition(ctx, session.ID,
			func(s *models.Session) error { return s.CanResolve() },
			func(s *models.Session) { s.ApplyResult(70, true, "n1", now) })
		require.NoError(t, err)

		r := New(sessions, time.Minute, 100, sink, nil, logger)
		expired, err := r.SweepAt(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, expired)
		assert.Empty(t, sink.events)

		stored, err := sessions.FindByID(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateCompleted, stored.State, "sweep never overwrites a resolved session")
	})

	t.Run("respects the batch size", func(t *testing.T) {
		sessions := store.NewInMemorySessionStore()
		for range 5 {
			newSession(t, sessions, 30*time.Minute, now)
		}

		r := New(sessions, time.Minute, 2, nil, nil, logger)
		expired, err := r.SweepAt(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, expired)

		// The rest go on later sweeps.
		expired, err = r.SweepAt(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, expired)
	})

	t.Run("empty sweep", func(t *testing.T) {
		r := New(store.NewInMemorySessionStore(), time.Minute, 100, nil, nil, logger)
		expired, err := r.SweepAt(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, expired)
	})
}

func TestRun_StopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(store.NewInMemorySessionStore(), time.Millisecond, 10, nil, nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
