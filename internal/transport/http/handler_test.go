package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofgate/internal/catalog"
	"proofgate/internal/platform/middleware"
	"proofgate/internal/verification/models"
	"proofgate/internal/verification/service"
	id "proofgate/pkg/domain"
	dErrors "proofgate/pkg/domain-errors"
	"proofgate/pkg/testutil"
)

// stubOrchestrator lets each test pin exactly one behavior per endpoint.
type stubOrchestrator struct {
	startFn    func(ctx context.Context, userID id.UserID, channel catalog.Channel, tier int) (*models.Session, error)
	retryFn    func(ctx context.Context, userID id.UserID, channel catalog.Channel, tier int) (*models.Session, error)
	callbackFn func(ctx context.Context, token string, rawScore int, nonce, sig string) (*service.Outcome, error)
	statusFn   func(ctx context.Context, token string) (*service.SessionView, error)
	progressFn func(ctx context.Context, token string) error
}

func (s *stubOrchestrator) Start(ctx context.Context, userID id.UserID, channel catalog.Channel, tier int) (*models.Session, error) {
	return s.startFn(ctx, userID, channel, tier)
}

func (s *stubOrchestrator) Retry(ctx context.Context, userID id.UserID, channel catalog.Channel, tier int) (*models.Session, error) {
	return s.retryFn(ctx, userID, channel, tier)
}

func (s *stubOrchestrator) HandleCallback(ctx context.Context, token string, rawScore int, nonce, sig string) (*service.Outcome, error) {
	return s.callbackFn(ctx, token, rawScore, nonce, sig)
}

func (s *stubOrchestrator) CheckStatus(ctx context.Context, token string) (*service.SessionView, error) {
	return s.statusFn(ctx, token)
}

func (s *stubOrchestrator) MarkInProgress(ctx context.Context, token string) error {
	return s.progressFn(ctx, token)
}

// stubValidator accepts exactly one bearer token.
type stubValidator struct {
	userID id.UserID
}

func (v stubValidator) ValidateToken(token string) (*middleware.JWTClaims, error) {
	if token != "good-token" {
		return nil, errors.New("bad token")
	}
	return &middleware.JWTClaims{UserID: v.userID}, nil
}

func newTestRouter(t *testing.T, orchestrator Orchestrator, userID id.UserID) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(orchestrator, catalog.Default(), stubValidator{userID: userID}, "https://verify.example.test/v", logger)
	r := chi.NewRouter()
	handler.Register(r)
	return r
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer good-token")
	return req
}

func TestHandleStart(t *testing.T) {
	userID := id.UserID(uuid.New())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	session := &models.Session{
		ID:            id.NewSessionID(),
		UserID:        userID,
		Channel:       catalog.ChannelPhone,
		TierLevel:     1,
		ExternalToken: "tok-123",
		State:         models.StatePending,
		ExpiresAt:     now.Add(time.Hour),
		AttemptNumber: 1,
		MaxAttempts:   3,
	}

	t.Run("created", func(t *testing.T) {
		orchestrator := &stubOrchestrator{
			startFn: func(_ context.Context, gotUser id.UserID, channel catalog.Channel, tier int) (*models.Session, error) {
				assert.Equal(t, userID, gotUser)
				assert.Equal(t, catalog.ChannelPhone, channel)
				assert.Equal(t, 1, tier)
				return session, nil
			},
		}
		router := newTestRouter(t, orchestrator, userID)

		req := authed(testutil.NewJSONRequest(t, http.MethodPost, "/verification/start",
			map[string]any{"channel": "phone", "tier_level": 1}))
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatus(t, rr, http.StatusCreated)
		testutil.AssertJSONContains(t, rr, "external_token", "tok-123")
		testutil.AssertJSONContains(t, rr, "verification_url", "https://verify.example.test/v/tok-123")
		testutil.AssertJSONContains(t, rr, "state", "pending")
		testutil.AssertJSONContains(t, rr, "attempt_number", float64(1))
	})

	t.Run("missing bearer token", func(t *testing.T) {
		router := newTestRouter(t, &stubOrchestrator{}, userID)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/start",
			map[string]any{"channel": "phone", "tier_level": 1})
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("invalid bearer token", func(t *testing.T) {
		router := newTestRouter(t, &stubOrchestrator{}, userID)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/start",
			map[string]any{"channel": "phone", "tier_level": 1})
		req.Header.Set("Authorization", "Bearer forged")
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("unknown channel", func(t *testing.T) {
		router := newTestRouter(t, &stubOrchestrator{}, userID)
		req := authed(testutil.NewJSONRequest(t, http.MethodPost, "/verification/start",
			map[string]any{"channel": "fax", "tier_level": 1}))
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "unknown_channel")
	})

	t.Run("malformed body", func(t *testing.T) {
		router := newTestRouter(t, &stubOrchestrator{}, userID)
		req := authed(testutil.NewRequestWithBody(t, http.MethodPost, "/verification/start", `{"channel":`))
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("domain conflict surfaces as 409", func(t *testing.T) {
		orchestrator := &stubOrchestrator{
			startFn: func(context.Context, id.UserID, catalog.Channel, int) (*models.Session, error) {
				return nil, dErrors.New(dErrors.CodeSessionAlreadyActive, "an active session already exists for this channel")
			},
		}
		router := newTestRouter(t, orchestrator, userID)
		req := authed(testutil.NewJSONRequest(t, http.MethodPost, "/verification/start",
			map[string]any{"channel": "phone", "tier_level": 1}))
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "session_already_active")
	})

	t.Run("attempts exhausted surfaces as 429", func(t *testing.T) {
		orchestrator := &stubOrchestrator{
			startFn: func(context.Context, id.UserID, catalog.Channel, int) (*models.Session, error) {
				return nil, dErrors.New(dErrors.CodeAttemptsExhausted, "attempt limit reached for this channel tier")
			},
		}
		router := newTestRouter(t, orchestrator, userID)
		req := authed(testutil.NewJSONRequest(t, http.MethodPost, "/verification/start",
			map[string]any{"channel": "phone", "tier_level": 1}))
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusTooManyRequests, "attempts_exhausted")
	})
}

func TestHandleCallback(t *testing.T) {
	userID := id.UserID(uuid.New())
	score := 70

	t.Run("accepted", func(t *testing.T) {
		orchestrator := &stubOrchestrator{
			callbackFn: func(_ context.Context, token string, rawScore int, nonce, sig string) (*service.Outcome, error) {
				assert.Equal(t, "tok-123", token)
				assert.Equal(t, 70, rawScore)
				assert.Equal(t, "nonce-1", nonce)
				assert.Equal(t, "cafe", sig)
				return &service.Outcome{State: models.StateCompleted, RawScore: &score, Composite: 110, Passed: true}, nil
			},
		}
		router := newTestRouter(t, orchestrator, userID)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/callback", map[string]any{
			"external_token": "tok-123",
			"raw_score":      70,
			"nonce":          "nonce-1",
			"signature":      "cafe",
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "accepted", true)
		testutil.AssertJSONContains(t, rr, "state", "completed")
		testutil.AssertJSONContains(t, rr, "composite", float64(110))
		testutil.AssertJSONContains(t, rr, "passed", true)
	})

	t.Run("zero raw score is a valid value", func(t *testing.T) {
		orchestrator := &stubOrchestrator{
			callbackFn: func(_ context.Context, _ string, rawScore int, _, _ string) (*service.Outcome, error) {
				assert.Zero(t, rawScore)
				zero := 0
				return &service.Outcome{State: models.StateFailed, RawScore: &zero}, nil
			},
		}
		router := newTestRouter(t, orchestrator, userID)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/callback", map[string]any{
			"external_token": "tok-123",
			"raw_score":      0,
			"nonce":          "nonce-1",
			"signature":      "cafe",
		})
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusOK(t, rr)
	})

	t.Run("missing fields rejected before orchestration", func(t *testing.T) {
		router := newTestRouter(t, &stubOrchestrator{}, userID)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/callback", map[string]any{
			"external_token": "tok-123",
			"nonce":          "nonce-1",
			"signature":      "cafe",
		})
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("invalid signature surfaces as 401", func(t *testing.T) {
		orchestrator := &stubOrchestrator{
			callbackFn: func(context.Context, string, int, string, string) (*service.Outcome, error) {
				return nil, dErrors.New(dErrors.CodeInvalidSignature, "signature mismatch")
			},
		}
		router := newTestRouter(t, orchestrator, userID)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/callback", map[string]any{
			"external_token": "tok-123", "raw_score": 70, "nonce": "n", "signature": "bad",
		})
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "invalid_signature")
	})

	t.Run("replay conflict surfaces as 409", func(t *testing.T) {
		orchestrator := &stubOrchestrator{
			callbackFn: func(context.Context, string, int, string, string) (*service.Outcome, error) {
				return nil, dErrors.New(dErrors.CodeReplayConflict, "session already resolved by a different callback")
			},
		}
		router := newTestRouter(t, orchestrator, userID)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/callback", map[string]any{
			"external_token": "tok-123", "raw_score": 70, "nonce": "n", "signature": "cafe",
		})
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "replay_conflict")
	})

	t.Run("expired session surfaces as 410", func(t *testing.T) {
		orchestrator := &stubOrchestrator{
			callbackFn: func(context.Context, string, int, string, string) (*service.Outcome, error) {
				return nil, dErrors.New(dErrors.CodeSessionExpired, "session expired before the callback arrived")
			},
		}
		router := newTestRouter(t, orchestrator, userID)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/callback", map[string]any{
			"external_token": "tok-123", "raw_score": 70, "nonce": "n", "signature": "cafe",
		})
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusGone, "session_expired")
	})
}

func TestHandleStatus(t *testing.T) {
	userID := id.UserID(uuid.New())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		composite := 110
		score := 70
		orchestrator := &stubOrchestrator{
			statusFn: func(_ context.Context, token string) (*service.SessionView, error) {
				assert.Equal(t, "tok-123", token)
				return &service.SessionView{
					SessionID:     id.NewSessionID(),
					Channel:       catalog.ChannelPhone,
					TierLevel:     1,
					State:         models.StateCompleted,
					RawScore:      &score,
					ExpiresAt:     now.Add(time.Hour),
					AttemptNumber: 1,
					MaxAttempts:   3,
					Composite:     &composite,
					Passed:        true,
				}, nil
			},
		}
		router := newTestRouter(t, orchestrator, userID)

		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/verification/status/tok-123"))

		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "state", "completed")
		testutil.AssertJSONContains(t, rr, "raw_score", float64(70))
		testutil.AssertJSONContains(t, rr, "composite", float64(110))
		testutil.AssertJSONContains(t, rr, "passed", true)
	})

	t.Run("pending view carries time remaining", func(t *testing.T) {
		orchestrator := &stubOrchestrator{
			statusFn: func(context.Context, string) (*service.SessionView, error) {
				return &service.SessionView{
					SessionID:     id.NewSessionID(),
					Channel:       catalog.ChannelPhone,
					TierLevel:     1,
					State:         models.StatePending,
					ExpiresAt:     now.Add(30 * time.Minute),
					TimeRemaining: 30 * time.Minute,
					AttemptNumber: 1,
					MaxAttempts:   3,
				}, nil
			},
		}
		router := newTestRouter(t, orchestrator, userID)

		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/verification/status/tok-123"))

		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "state", "pending")
		testutil.AssertJSONContains(t, rr, "time_remaining_seconds", float64(1800))
	})

	t.Run("unknown token", func(t *testing.T) {
		orchestrator := &stubOrchestrator{
			statusFn: func(context.Context, string) (*service.SessionView, error) {
				return nil, dErrors.New(dErrors.CodeSessionNotFound, "no session for this token")
			},
		}
		router := newTestRouter(t, orchestrator, userID)
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/verification/status/bogus"))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "session_not_found")
	})
}

func TestHandleProgress(t *testing.T) {
	userID := id.UserID(uuid.New())

	t.Run("no content on success", func(t *testing.T) {
		orchestrator := &stubOrchestrator{
			progressFn: func(_ context.Context, token string) error {
				assert.Equal(t, "tok-123", token)
				return nil
			},
		}
		router := newTestRouter(t, orchestrator, userID)
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/verification/progress/tok-123"))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
	})

	t.Run("expired surfaces as 410", func(t *testing.T) {
		orchestrator := &stubOrchestrator{
			progressFn: func(context.Context, string) error {
				return dErrors.New(dErrors.CodeSessionExpired, "session expired")
			},
		}
		router := newTestRouter(t, orchestrator, userID)
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/verification/progress/tok-123"))
		testutil.AssertStatusAndError(t, rr, http.StatusGone, "session_expired")
	})
}

func TestHandleChannels(t *testing.T) {
	router := newTestRouter(t, &stubOrchestrator{}, id.UserID(uuid.New()))
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/verification/channels"))

	testutil.AssertStatusOK(t, rr)

	type listing struct {
		Channels []struct {
			Channel string `json:"channel"`
			Tiers   []struct {
				Tier          int `json:"tier"`
				ScoreMax      int `json:"score_max"`
				PassingCutoff int `json:"passing_cutoff"`
				MaxAttempts   int `json:"max_attempts"`
			} `json:"tiers"`
		} `json:"channels"`
	}
	got := testutil.UnmarshalResponse[listing](t, rr)
	require.NotEmpty(t, got.Channels)

	for _, entry := range got.Channels {
		assert.NotEmpty(t, entry.Channel)
		assert.NotEmpty(t, entry.Tiers)
	}
}
