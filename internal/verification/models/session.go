// Package models holds the verification aggregate: the per-attempt session
// and the per-user composite score record.
package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"proofgate/internal/catalog"
	id "proofgate/pkg/domain"
	dErrors "proofgate/pkg/domain-errors"
)

// State is the session lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateExpired    State = "expired"
)

// Terminal reports whether the state never changes again.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired:
		return true
	}
	return false
}

// CanTransitionTo encodes the legal state machine:
//
//	Pending    -> InProgress | Completed | Failed | Expired
//	InProgress -> Completed | Failed | Expired
//	terminal   -> (nothing)
func (s State) CanTransitionTo(next State) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StateInProgress:
		return s == StatePending
	case StateCompleted, StateFailed, StateExpired:
		return s == StatePending || s == StateInProgress
	}
	return false
}

// Session is one active or historical attempt at one channel tier for one
// user.
//
// Invariants:
//   - At most one session per (UserID, Channel) is Pending or InProgress at
//     a time; the store's conditional insert enforces this.
//   - ExternalToken is unique across all sessions ever created and is the
//     only identifier the external verifier sees.
//   - Channel, TierLevel, CreatedAt, and ExpiresAt are immutable after
//     construction.
//   - A terminal State never changes; Nonce records the callback that
//     resolved the session so replays can be matched.
type Session struct {
	ID            id.SessionID
	UserID        id.UserID
	Channel       catalog.Channel
	TierLevel     int
	ExternalToken string
	State         State
	RawScore      *int
	Nonce         string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	CompletedAt   *time.Time
	AttemptNumber int
	MaxAttempts   int
}

// NewSession constructs a Pending session with a fresh external token and an
// expiry fixed at creation time.
func NewSession(userID id.UserID, channel catalog.Channel, spec catalog.TierSpec, attempt int, now time.Time) (*Session, error) {
	token, err := NewExternalToken()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:            id.NewSessionID(),
		UserID:        userID,
		Channel:       channel,
		TierLevel:     spec.Tier,
		ExternalToken: token,
		State:         StatePending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(spec.Expiry),
		AttemptNumber: attempt,
		MaxAttempts:   spec.MaxAttempts,
	}, nil
}

// NewExternalToken returns 32 random bytes hex-encoded: 256 bits of entropy,
// never derived from user or time, so tokens cannot be guessed or enumerated.
func NewExternalToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "generate external token")
	}
	return hex.EncodeToString(buf), nil
}

// Terminal reports whether the session reached a final state.
func (s *Session) Terminal() bool { return s.State.Terminal() }

// Active reports whether the session still occupies the one-active-slot for
// its (user, channel) pair.
func (s *Session) Active() bool {
	return s.State == StatePending || s.State == StateInProgress
}

// ExpiredAt reports whether the session deadline has passed at the given
// instant. Expiry is always computed lazily against the caller's clock so
// status stays accurate regardless of reaper timing.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// TimeRemaining returns how long the session stays open, floored at zero.
func (s *Session) TimeRemaining(now time.Time) time.Duration {
	if remaining := s.ExpiresAt.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// CanMarkInProgress validates the Pending -> InProgress transition. Already
// InProgress is allowed so the caller can treat the operation as idempotent.
func (s *Session) CanMarkInProgress() error {
	if s.State == StateInProgress {
		return nil
	}
	if !s.State.CanTransitionTo(StateInProgress) {
		return dErrors.New(dErrors.CodeSessionTerminal, "session already resolved")
	}
	return nil
}

// ApplyInProgress transitions Pending -> InProgress; no-op when already there.
func (s *Session) ApplyInProgress() {
	if s.State == StatePending {
		s.State = StateInProgress
	}
}

// CanResolve validates that a callback result may still be recorded.
func (s *Session) CanResolve() error {
	if s.Terminal() {
		return dErrors.New(dErrors.CodeSessionTerminal, "session already resolved")
	}
	return nil
}

// ApplyResult records the verifier's outcome: the clamped raw score, the
// nonce that bound the callback, and the terminal state after comparing
// against the passing cutoff.
func (s *Session) ApplyResult(rawScore int, passed bool, nonce string, now time.Time) {
	score := rawScore
	s.RawScore = &score
	s.Nonce = nonce
	completed := now
	s.CompletedAt = &completed
	if passed {
		s.State = StateCompleted
	} else {
		s.State = StateFailed
	}
}

// ApplyExpiry transitions an overdue session to Expired.
func (s *Session) ApplyExpiry(now time.Time) {
	s.State = StateExpired
	completed := now
	s.CompletedAt = &completed
}

// CanRetry reports whether a fresh attempt at the same (channel, tier) is
// allowed after this session: only Failed or Expired sessions with attempts
// left qualify.
func (s *Session) CanRetry() error {
	switch s.State {
	case StateFailed, StateExpired:
	default:
		return dErrors.New(dErrors.CodeSessionAlreadyActive, "previous attempt is not failed or expired")
	}
	if s.AttemptNumber >= s.MaxAttempts {
		return dErrors.New(dErrors.CodeAttemptsExhausted, "retry limit reached for this channel tier")
	}
	return nil
}
