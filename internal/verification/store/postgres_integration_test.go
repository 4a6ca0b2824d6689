//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"proofgate/internal/catalog"
	"proofgate/internal/platform/postgres"
	"proofgate/internal/verification/models"
	id "proofgate/pkg/domain"
	"proofgate/pkg/platform/sentinel"
	"proofgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg         *containers.PostgresContainer
	sessions   *PostgresSessionStore
	composites *PostgresCompositeStore
	ctx        context.Context
	now        time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.ctx = context.Background()
	s.Require().NoError(postgres.RunMigrations(s.ctx, s.pg.DB))
	s.sessions = NewPostgresSessionStore(s.pg.DB)
	s.composites = NewPostgresCompositeStore(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.pg.TruncateAll(s.ctx, "verification_sessions", "composite_scores"))
}

func (s *PostgresStoreSuite) newSession(userID id.UserID, channel catalog.Channel) *models.Session {
	spec := catalog.TierSpec{Tier: 1, ScoreMax: 100, PassingCutoff: 50, Expiry: time.Hour, MaxAttempts: 3}
	session, err := models.NewSession(userID, channel, spec, 1, s.now)
	s.Require().NoError(err)
	return session
}

func (s *PostgresStoreSuite) TestCreateIfNoneActive_PartialIndex() {
	userID := id.UserID(uuid.New())

	first := s.newSession(userID, catalog.ChannelPhone)
	s.Require().NoError(s.sessions.CreateIfNoneActive(s.ctx, first))

	// The partial unique index refuses a second active session on the slot.
	second := s.newSession(userID, catalog.ChannelPhone)
	s.Require().ErrorIs(s.sessions.CreateIfNoneActive(s.ctx, second), sentinel.ErrConflict)

	// Resolving the first frees the slot.
	_, err := s.sessions.Transition(s.ctx, first.ID,
		func(sess *models.Session) error { return sess.CanResolve() },
		func(sess *models.Session) { sess.ApplyResult(10, false, "n1", s.now) })
	s.Require().NoError(err)
	s.Require().NoError(s.sessions.CreateIfNoneActive(s.ctx, second))
}

// Attempts created under a fixed request clock share created_at; the query
// must break the tie on attempt_number.
func (s *PostgresStoreSuite) TestFindLatest_SameCreatedAtPicksHighestAttempt() {
	userID := id.UserID(uuid.New())

	for attempt := 1; attempt <= 3; attempt++ {
		session := s.newSession(userID, catalog.ChannelEmail)
		session.AttemptNumber = attempt
		s.Require().NoError(s.sessions.CreateIfNoneActive(s.ctx, session))
		if attempt < 3 {
			_, err := s.sessions.Transition(s.ctx, session.ID,
				func(sess *models.Session) error { return sess.CanResolve() },
				func(sess *models.Session) { sess.ApplyResult(10, false, "n1", s.now) })
			s.Require().NoError(err)
		}
	}

	latest, err := s.sessions.FindLatest(s.ctx, userID, catalog.ChannelEmail, 1)
	s.Require().NoError(err)
	s.Equal(3, latest.AttemptNumber)
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	userID := id.UserID(uuid.New())
	session := s.newSession(userID, catalog.ChannelKYC)
	s.Require().NoError(s.sessions.CreateIfNoneActive(s.ctx, session))

	byToken, err := s.sessions.FindByToken(s.ctx, session.ExternalToken)
	s.Require().NoError(err)
	s.Equal(session.ID, byToken.ID)
	s.Equal(models.StatePending, byToken.State)
	s.Nil(byToken.RawScore)
	s.True(session.ExpiresAt.Equal(byToken.ExpiresAt))

	_, err = s.sessions.FindByToken(s.ctx, "missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestTransition_RowLock() {
	userID := id.UserID(uuid.New())
	session := s.newSession(userID, catalog.ChannelPhone)
	s.Require().NoError(s.sessions.CreateIfNoneActive(s.ctx, session))

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.sessions.Transition(s.ctx, session.ID,
				func(sess *models.Session) error { return sess.CanResolve() },
				func(sess *models.Session) { sess.ApplyResult(60+i, true, "nonce", s.now) })
		}()
	}
	wg.Wait()

	committed := 0
	for _, err := range errs {
		if err == nil {
			committed++
		}
	}
	s.Equal(1, committed, "row lock serializes resolution, only one commit")

	stored, err := s.sessions.FindByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(models.StateCompleted, stored.State)
	s.Equal("nonce", stored.Nonce)
}

func (s *PostgresStoreSuite) TestListExpiredCandidates() {
	userID := id.UserID(uuid.New())
	session := s.newSession(userID, catalog.ChannelPhone)
	s.Require().NoError(s.sessions.CreateIfNoneActive(s.ctx, session))

	candidates, err := s.sessions.ListExpiredCandidates(s.ctx, s.now.Add(30*time.Minute), 10)
	s.Require().NoError(err)
	s.Empty(candidates)

	candidates, err = s.sessions.ListExpiredCandidates(s.ctx, s.now.Add(2*time.Hour), 10)
	s.Require().NoError(err)
	s.Equal([]id.SessionID{session.ID}, candidates)
}

func (s *PostgresStoreSuite) TestCompositeStore() {
	userID := id.UserID(uuid.New())
	at := s.now

	record := &models.CompositeScoreRecord{
		UserID:               userID,
		Composite:            110,
		Passed:               true,
		ContributingSessions: []id.SessionID{id.NewSessionID()},
		UpdatedAt:            at,
	}
	s.Require().NoError(s.composites.Upsert(s.ctx, record))

	got, err := s.composites.Get(s.ctx, userID)
	s.Require().NoError(err)
	s.Equal(110, got.Composite)
	s.Nil(got.ThresholdCrossedAt)
	s.Len(got.ContributingSessions, 1)

	won, err := s.composites.MarkThresholdCrossed(s.ctx, userID, at)
	s.Require().NoError(err)
	s.True(won)

	won, err = s.composites.MarkThresholdCrossed(s.ctx, userID, at.Add(time.Minute))
	s.Require().NoError(err)
	s.False(won, "check-and-set fires once")

	// A later upsert raises the composite without touching the stamp.
	record.Composite = 140
	record.UpdatedAt = at.Add(time.Minute)
	s.Require().NoError(s.composites.Upsert(s.ctx, record))

	got, err = s.composites.Get(s.ctx, userID)
	s.Require().NoError(err)
	s.Equal(140, got.Composite)
	s.Require().NotNil(got.ThresholdCrossedAt)
	s.True(at.Equal(*got.ThresholdCrossedAt))
}
