package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"proofgate/internal/catalog"
	"proofgate/internal/verification/models"
	id "proofgate/pkg/domain"
	"proofgate/pkg/platform/sentinel"
)

// PostgresSessionStore persists sessions in PostgreSQL. It is pure I/O; all
// lifecycle rules live in the service and the model. The one-active-session
// invariant is enforced by a partial unique index on (user_id, channel)
// over active states, so concurrent creates race at the database, not here.
type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

const sessionColumns = `id, user_id, channel, tier_level, external_token, state,
	raw_score, nonce, created_at, expires_at, completed_at, attempt_number, max_attempts`

func (s *PostgresSessionStore) CreateIfNoneActive(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO verification_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(session.ID),
		uuid.UUID(session.UserID),
		string(session.Channel),
		session.TierLevel,
		session.ExternalToken,
		string(session.State),
		session.RawScore,
		session.Nonce,
		session.CreatedAt,
		session.ExpiresAt,
		session.CompletedAt,
		session.AttemptNumber,
		session.MaxAttempts,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM verification_sessions WHERE id = $1`
	return scanSession(s.db.QueryRowContext(ctx, query, uuid.UUID(sessionID)))
}

func (s *PostgresSessionStore) FindByToken(ctx context.Context, externalToken string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM verification_sessions WHERE external_token = $1`
	return scanSession(s.db.QueryRowContext(ctx, query, externalToken))
}

func (s *PostgresSessionStore) FindLatest(ctx context.Context, userID id.UserID, channel catalog.Channel, tier int) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM verification_sessions
		WHERE user_id = $1 AND channel = $2 AND tier_level = $3
		ORDER BY created_at DESC, attempt_number DESC
		LIMIT 1
	`
	return scanSession(s.db.QueryRowContext(ctx, query, uuid.UUID(userID), string(channel), tier))
}

func (s *PostgresSessionStore) FindCompletedTier(ctx context.Context, userID id.UserID, channel catalog.Channel, tier int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM verification_sessions
			WHERE user_id = $1 AND channel = $2 AND tier_level = $3 AND state = 'completed'
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, uuid.UUID(userID), string(channel), tier).Scan(&exists); err != nil {
		return false, fmt.Errorf("find completed tier: %w", err)
	}
	return exists, nil
}

func (s *PostgresSessionStore) ListCompletedByUser(ctx context.Context, userID id.UserID) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM verification_sessions
		WHERE user_id = $1 AND state = 'completed'
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list completed sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *PostgresSessionStore) ListExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]id.SessionID, error) {
	query := `
		SELECT id FROM verification_sessions
		WHERE state IN ('pending', 'in_progress') AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired candidates: %w", err)
	}
	defer rows.Close()

	var out []id.SessionID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan expired candidate: %w", err)
		}
		out = append(out, id.SessionID(raw))
	}
	return out, rows.Err()
}

// Transition implements the locked validate-then-mutate pattern with
// SELECT ... FOR UPDATE, so the validation result cannot go stale before the
// write commits.
func (s *PostgresSessionStore) Transition(ctx context.Context, sessionID id.SessionID,
	validate func(*models.Session) error,
	mutate func(*models.Session)) (*models.Session, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + sessionColumns + ` FROM verification_sessions WHERE id = $1 FOR UPDATE`
	session, err := scanSession(tx.QueryRowContext(ctx, query, uuid.UUID(sessionID)))
	if err != nil {
		return nil, err
	}

	if err := validate(session); err != nil {
		return nil, err
	}
	mutate(session)

	update := `
		UPDATE verification_sessions
		SET state = $2, raw_score = $3, nonce = $4, completed_at = $5
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, update,
		uuid.UUID(session.ID),
		string(session.State),
		session.RawScore,
		session.Nonce,
		session.CompletedAt,
	); err != nil {
		return nil, fmt.Errorf("persist transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return session, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session   models.Session
		sessionID uuid.UUID
		userID    uuid.UUID
		channel   string
		state     string
		rawScore  sql.NullInt64
		nonce     sql.NullString
		completed sql.NullTime
	)
	err := row.Scan(
		&sessionID,
		&userID,
		&channel,
		&session.TierLevel,
		&session.ExternalToken,
		&state,
		&rawScore,
		&nonce,
		&session.CreatedAt,
		&session.ExpiresAt,
		&completed,
		&session.AttemptNumber,
		&session.MaxAttempts,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	session.ID = id.SessionID(sessionID)
	session.UserID = id.UserID(userID)
	session.Channel = catalog.Channel(channel)
	session.State = models.State(state)
	if rawScore.Valid {
		score := int(rawScore.Int64)
		session.RawScore = &score
	}
	if nonce.Valid {
		session.Nonce = nonce.String
	}
	if completed.Valid {
		at := completed.Time
		session.CompletedAt = &at
	}
	return &session, nil
}

// PostgresCompositeStore persists the derived composite score records.
type PostgresCompositeStore struct {
	db *sql.DB
}

func NewPostgresCompositeStore(db *sql.DB) *PostgresCompositeStore {
	return &PostgresCompositeStore{db: db}
}

func (s *PostgresCompositeStore) Get(ctx context.Context, userID id.UserID) (*models.CompositeScoreRecord, error) {
	query := `
		SELECT user_id, composite, passed, contributing_sessions, threshold_crossed_at, updated_at
		FROM composite_scores
		WHERE user_id = $1
	`
	var (
		record       models.CompositeScoreRecord
		rawUserID    uuid.UUID
		contributing []uuid.UUID
		crossedAt    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(userID)).Scan(
		&rawUserID,
		&record.Composite,
		&record.Passed,
		pq.Array(&contributing),
		&crossedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get composite score: %w", err)
	}

	record.UserID = id.UserID(rawUserID)
	for _, raw := range contributing {
		record.ContributingSessions = append(record.ContributingSessions, id.SessionID(raw))
	}
	if crossedAt.Valid {
		at := crossedAt.Time
		record.ThresholdCrossedAt = &at
	}
	return &record, nil
}

func (s *PostgresCompositeStore) Upsert(ctx context.Context, record *models.CompositeScoreRecord) error {
	contributing := make([]uuid.UUID, len(record.ContributingSessions))
	for i, sid := range record.ContributingSessions {
		contributing[i] = uuid.UUID(sid)
	}

	// threshold_crossed_at is deliberately absent from the update set: the
	// crossing stamp only moves through MarkThresholdCrossed.
	query := `
		INSERT INTO composite_scores (user_id, composite, passed, contributing_sessions, threshold_crossed_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			composite = EXCLUDED.composite,
			passed = EXCLUDED.passed,
			contributing_sessions = EXCLUDED.contributing_sessions,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(record.UserID),
		record.Composite,
		record.Passed,
		pq.Array(contributing),
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert composite score: %w", err)
	}
	return nil
}

func (s *PostgresCompositeStore) MarkThresholdCrossed(ctx context.Context, userID id.UserID, at time.Time) (bool, error) {
	query := `
		UPDATE composite_scores
		SET threshold_crossed_at = $2
		WHERE user_id = $1 AND threshold_crossed_at IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, uuid.UUID(userID), at)
	if err != nil {
		return false, fmt.Errorf("mark threshold crossed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark threshold crossed rows affected: %w", err)
	}
	return rows > 0, nil
}
