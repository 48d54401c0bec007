package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linqmd/voice-onboarding/internal/domain"
	"github.com/linqmd/voice-onboarding/internal/identity"
	"github.com/linqmd/voice-onboarding/internal/voice"
)

// VoiceHandler handles the onboarding session endpoints.
type VoiceHandler struct {
	svc         *voice.Service
	hub         *EventHub
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// NewVoiceHandler creates the voice API handler.
func NewVoiceHandler(svc *voice.Service, hub *EventHub, rl *RateLimiter, logger *slog.Logger) *VoiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceHandler{svc: svc, hub: hub, rateLimiter: rl, logger: logger}
}

// RegisterRoutes registers the voice onboarding routes.
func (h *VoiceHandler) RegisterRoutes(r chi.Router) {
	r.Route("/voice", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/chat", h.Chat)
		r.Route("/session/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.CancelSession)
			r.Post("/finalize", h.Finalize)
			r.Get("/events", h.Events)
		})
	})
}

type startRequest struct {
	Language string          `json:"language,omitempty"`
	Context  *domain.Context `json:"context,omitempty"`
}

type startResponse struct {
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	FirstPrompt string    `json:"first_prompt"`
	FieldsTotal int       `json:"fields_total"`
	CreatedAt   time.Time `json:"created_at"`
}

// Start creates a new onboarding session for the authenticated subject.
func (h *VoiceHandler) Start(w http.ResponseWriter, r *http.Request) {
	subjectID := identity.SubjectIDFromContext(r.Context())
	if subjectID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startRequest
	if err := decode(w, r, &req); err != nil && !strings.Contains(err.Error(), "EOF") {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.Start(r.Context(), voice.StartInput{
		SubjectID: subjectID,
		Language:  req.Language,
		Context:   req.Context,
	})
	if err != nil {
		h.logger.Error("start session failed", "error", err, "subject_id", subjectID)
		writeDomainError(w, err)
		return
	}

	JSON(w, http.StatusCreated, startResponse{
		SessionID:   out.Session.ID,
		Status:      string(out.Session.Status),
		FirstPrompt: out.FirstPrompt,
		FieldsTotal: len(out.Session.Fields),
		CreatedAt:   out.Session.CreatedAt,
	})
}

type chatRequest struct {
	SessionID  string          `json:"session_id"`
	Transcript string          `json:"user_transcript"`
	Context    *domain.Context `json:"context,omitempty"`
}

type chatResponse struct {
	SessionID     string                `json:"session_id"`
	SessionStatus string                `json:"session_status"`
	AIResponse    string                `json:"ai_response"`
	FieldsStatus  []*domain.FieldStatus `json:"fields_status"`
	CurrentData   map[string]any        `json:"current_data"`
	IsComplete    bool                  `json:"is_complete"`
	TurnNumber    int                   `json:"turn_number"`
}

// Chat processes one user turn.
func (h *VoiceHandler) Chat(w http.ResponseWriter, r *http.Request) {
	subjectID := identity.SubjectIDFromContext(r.Context())
	if subjectID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.rateLimiter.Allow(subjectID) {
		Error(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		Error(w, http.StatusBadRequest, "transcript is required")
		return
	}

	out, err := h.svc.Chat(r.Context(), voice.ChatInput{
		SessionID:  req.SessionID,
		Transcript: req.Transcript,
		Context:    req.Context,
	})
	if err != nil {
		h.logger.Warn("chat turn failed", "error", err, "session_id", req.SessionID)
		writeDomainError(w, err)
		return
	}

	JSON(w, http.StatusOK, chatResponse{
		SessionID:     out.Session.ID,
		SessionStatus: string(out.Session.Status),
		AIResponse:    out.Reply,
		FieldsStatus:  out.Session.Fields,
		CurrentData:   out.Session.CurrentData(),
		IsComplete:    out.Session.IsComplete(),
		TurnNumber:    out.Session.TurnCount,
	})
}

type sessionResponse struct {
	SessionID       string                `json:"session_id"`
	Status          string                `json:"status"`
	Language        string                `json:"language"`
	FieldsCollected int                   `json:"fields_collected"`
	FieldsTotal     int                   `json:"fields_total"`
	FieldsStatus    []*domain.FieldStatus `json:"fields_status"`
	CurrentData     map[string]any        `json:"current_data"`
	IsComplete      bool                  `json:"is_complete"`
	TurnCount       int                   `json:"turn_count"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	ExpiresAt       time.Time             `json:"expires_at"`
}

// GetSession returns the current session snapshot. Expired sessions are
// reported with their terminal status, not an error.
func (h *VoiceHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.svc.Get(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	JSON(w, http.StatusOK, sessionResponse{
		SessionID:       session.ID,
		Status:          string(session.Status),
		Language:        session.Language,
		FieldsCollected: session.CollectedCount(),
		FieldsTotal:     len(session.Fields),
		FieldsStatus:    session.Fields,
		CurrentData:     session.CurrentData(),
		IsComplete:      session.IsComplete(),
		TurnCount:       session.TurnCount,
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
		ExpiresAt:       session.ExpiresAt(h.svc.ExpiresAfter()),
	})
}

// CancelSession cancels an open session.
func (h *VoiceHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.svc.Cancel(r.Context(), sessionID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Finalize hands the collected profile off to registration.
func (h *VoiceHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	out, err := h.svc.Finalize(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

// Events upgrades to a websocket that streams session snapshots.
func (h *VoiceHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		Error(w, http.StatusNotFound, "events disabled")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	// The session must exist before a stream is opened for it.
	if _, err := h.svc.Get(r.Context(), sessionID); err != nil {
		writeDomainError(w, err)
		return
	}

	h.hub.Serve(w, r, sessionID)
}
