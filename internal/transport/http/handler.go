// Package httptransport wires the verification API onto chi. Handlers stay
// thin: decode, delegate to the orchestrator, translate errors.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"proofgate/internal/catalog"
	"proofgate/internal/platform/middleware"
	"proofgate/internal/verification/models"
	"proofgate/internal/verification/service"
	id "proofgate/pkg/domain"
	dErrors "proofgate/pkg/domain-errors"
	"proofgate/pkg/platform/httputil"
	"proofgate/pkg/requestcontext"
)

// Orchestrator is the verification surface the handlers call.
type Orchestrator interface {
	Start(ctx context.Context, userID id.UserID, channel catalog.Channel, tier int) (*models.Session, error)
	Retry(ctx context.Context, userID id.UserID, channel catalog.Channel, tier int) (*models.Session, error)
	HandleCallback(ctx context.Context, externalToken string, rawScore int, nonce, sig string) (*service.Outcome, error)
	CheckStatus(ctx context.Context, externalToken string) (*service.SessionView, error)
	MarkInProgress(ctx context.Context, externalToken string) error
}

// Handler exposes the verification endpoints.
type Handler struct {
	orchestrator  Orchestrator
	catalog       *catalog.Catalog
	jwtValidator  middleware.JWTValidator
	verifyBaseURL string
	logger        *slog.Logger
}

func NewHandler(orchestrator Orchestrator, cat *catalog.Catalog, jwtValidator middleware.JWTValidator, verifyBaseURL string, logger *slog.Logger) *Handler {
	return &Handler{
		orchestrator:  orchestrator,
		catalog:       cat,
		jwtValidator:  jwtValidator,
		verifyBaseURL: strings.TrimRight(verifyBaseURL, "/"),
		logger:        logger,
	}
}

// verificationURL is where the caller completes the channel's challenge. The
// external token is the only path component, never the session id.
func (h *Handler) verificationURL(externalToken string) string {
	return h.verifyBaseURL + "/" + externalToken
}

// Register mounts the verification routes. The caller-facing routes require
// a bearer token; the callback route is authenticated by its payload
// signature instead, since the external verifier holds no user credential.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(g chi.Router) {
		g.Use(middleware.ContentTypeJSON)
		g.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		g.Post("/verification/start", h.handleStart)
		g.Post("/verification/retry", h.handleRetry)
	})

	r.Group(func(g chi.Router) {
		g.Use(middleware.ContentTypeJSON)
		g.Post("/verification/callback", h.handleCallback)
		g.Get("/verification/status/{token}", h.handleStatus)
		g.Post("/verification/progress/{token}", h.handleProgress)
		g.Get("/verification/channels", h.handleChannels)
	})
}

type startRequest struct {
	Channel   string `json:"channel"`
	TierLevel int    `json:"tier_level"`
}

type startResponse struct {
	SessionID       string    `json:"session_id"`
	ExternalToken   string    `json:"external_token"`
	VerificationURL string    `json:"verification_url"`
	State           string    `json:"state"`
	ExpiresAt       time.Time `json:"expires_at"`
	AttemptNumber   int       `json:"attempt_number"`
	MaxAttempts     int       `json:"max_attempts"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.startOrRetry(w, r, h.orchestrator.Start)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	h.startOrRetry(w, r, h.orchestrator.Retry)
}

func (h *Handler) startOrRetry(w http.ResponseWriter, r *http.Request,
	op func(context.Context, id.UserID, catalog.Channel, int) (*models.Session, error)) {

	ctx := r.Context()
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		h.logger.ErrorContext(ctx, "user missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	req, err := httputil.Decode[startRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	channel, err := h.catalog.ParseChannel(req.Channel)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := op(ctx, userID, channel, req.TierLevel)
	if err != nil {
		h.logWarnIfDomain(ctx, "start verification session", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, startResponse{
		SessionID:       session.ID.String(),
		ExternalToken:   session.ExternalToken,
		VerificationURL: h.verificationURL(session.ExternalToken),
		State:           string(session.State),
		ExpiresAt:       session.ExpiresAt,
		AttemptNumber:   session.AttemptNumber,
		MaxAttempts:     session.MaxAttempts,
	})
}

type callbackRequest struct {
	ExternalToken string `json:"external_token"`
	RawScore      *int   `json:"raw_score"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
}

type callbackResponse struct {
	Accepted  bool   `json:"accepted"`
	State     string `json:"state"`
	RawScore  *int   `json:"raw_score"`
	Composite int    `json:"composite"`
	Passed    bool   `json:"passed"`
	Replayed  bool   `json:"replayed,omitempty"`
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[callbackRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	// Reject malformed payloads before any verification work.
	if req.ExternalToken == "" || req.Nonce == "" || req.Signature == "" || req.RawScore == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "external_token, raw_score, nonce, and signature are required"))
		return
	}

	outcome, err := h.orchestrator.HandleCallback(ctx, req.ExternalToken, *req.RawScore, req.Nonce, req.Signature)
	if err != nil {
		h.logWarnIfDomain(ctx, "handle callback", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, callbackResponse{
		Accepted:  true,
		State:     string(outcome.State),
		RawScore:  outcome.RawScore,
		Composite: outcome.Composite,
		Passed:    outcome.Passed,
		Replayed:  outcome.Replayed,
	})
}

type statusResponse struct {
	State                string    `json:"state"`
	RawScore             *int      `json:"raw_score"`
	IsExpired            bool      `json:"is_expired"`
	ExpiresAt            time.Time `json:"expires_at"`
	TimeRemainingSeconds int       `json:"time_remaining_seconds"`
	Channel              string    `json:"channel"`
	TierLevel            int       `json:"tier_level"`
	AttemptNumber        int       `json:"attempt_number"`
	MaxAttempts          int       `json:"max_attempts"`
	Composite            *int      `json:"composite,omitempty"`
	Passed               bool      `json:"passed"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := chi.URLParam(r, "token")

	view, err := h.orchestrator.CheckStatus(ctx, token)
	if err != nil {
		h.logWarnIfDomain(ctx, "check status", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, statusResponse{
		State:                string(view.State),
		RawScore:             view.RawScore,
		IsExpired:            view.IsExpired,
		ExpiresAt:            view.ExpiresAt,
		TimeRemainingSeconds: int(view.TimeRemaining.Seconds()),
		Channel:              string(view.Channel),
		TierLevel:            view.TierLevel,
		AttemptNumber:        view.AttemptNumber,
		MaxAttempts:          view.MaxAttempts,
		Composite:            view.Composite,
		Passed:               view.Passed,
	})
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := chi.URLParam(r, "token")

	if err := h.orchestrator.MarkInProgress(ctx, token); err != nil {
		h.logWarnIfDomain(ctx, "mark in progress", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tierInfo struct {
	Tier              int `json:"tier"`
	ScoreMin          int `json:"score_min"`
	ScoreMax          int `json:"score_max"`
	PassingCutoff     int `json:"passing_cutoff"`
	ExpirySeconds     int `json:"expiry_seconds"`
	RequiredPriorTier int `json:"required_prior_tier,omitempty"`
	MaxAttempts       int `json:"max_attempts"`
}

type channelInfo struct {
	Channel string     `json:"channel"`
	Tiers   []tierInfo `json:"tiers"`
}

func (h *Handler) handleChannels(w http.ResponseWriter, r *http.Request) {
	listing := h.catalog.List()
	out := make([]channelInfo, 0, len(listing))
	for _, entry := range listing {
		tiers := make([]tierInfo, 0, len(entry.Tiers))
		for _, spec := range entry.Tiers {
			tiers = append(tiers, tierInfo{
				Tier:              spec.Tier,
				ScoreMin:          spec.ScoreMin,
				ScoreMax:          spec.ScoreMax,
				PassingCutoff:     spec.PassingCutoff,
				ExpirySeconds:     int(spec.Expiry.Seconds()),
				RequiredPriorTier: spec.RequiredPriorTier,
				MaxAttempts:       spec.MaxAttempts,
			})
		}
		out = append(out, channelInfo{Channel: string(entry.Channel), Tiers: tiers})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"channels": out})
}

// logWarnIfDomain logs domain rejections at warn and everything else at
// error, keeping expected 4xx noise out of the error stream.
func (h *Handler) logWarnIfDomain(ctx context.Context, op string, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx), "error", err.Error())
		return
	}
	h.logger.WarnContext(ctx, op+" rejected",
		"request_id", requestcontext.RequestID(ctx), "code", string(code), "error", err.Error())
}
