package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/writecoach/internal/coach"
	"github.com/ashureev/writecoach/internal/domain"
	"github.com/ashureev/writecoach/internal/identity"
	"github.com/ashureev/writecoach/internal/workflow"
)

// maxTopicLength bounds the essay prompt accepted at session start.
const maxTopicLength = 2000

// SessionView is the client representation of a session.
type SessionView struct {
	ID          string             `json:"id"`
	Topic       string             `json:"topic,omitempty"`
	Phase       domain.Phase       `json:"phase"`
	Stance      *domain.Stance     `json:"stance,omitempty"`
	Arguments   []domain.Argument  `json:"arguments"`
	Paragraphs  []domain.Paragraph `json:"paragraphs"`
	History     []domain.Message   `json:"history"`
	Preferences bool               `json:"preferences"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func viewOf(s domain.Session) SessionView {
	v := SessionView{
		ID:          s.ID,
		Topic:       s.Topic,
		Phase:       s.Phase,
		Stance:      s.Stance,
		Arguments:   s.Arguments,
		Paragraphs:  s.Paragraphs,
		History:     s.History,
		Preferences: s.Memory.Present(),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if v.Arguments == nil {
		v.Arguments = []domain.Argument{}
	}
	if v.Paragraphs == nil {
		v.Paragraphs = []domain.Paragraph{}
	}
	if v.History == nil {
		v.History = []domain.Message{}
	}
	return v
}

type createSessionRequest struct {
	Topic string `json:"topic"`
}

type turnRequest struct {
	Message string `json:"message"`
}

// turnResponse adds a rephrase hint to clarify results.
type turnResponse struct {
	coach.TurnResult
	Hint string `json:"hint,omitempty"`
}

func newTurnResponse(res coach.TurnResult) turnResponse {
	out := turnResponse{TurnResult: res}
	if res.Clarify {
		out.Hint = workflow.ErrClassificationFailure.Error() + "; please rephrase"
	}
	return out
}

// CreateSession handles POST /api/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createSessionRequest
	if !h.decodeBody(w, r, &req, true) {
		return
	}
	if len(req.Topic) > maxTopicLength {
		Error(w, http.StatusBadRequest, "topic is too long")
		return
	}

	session, err := h.coach.Start(r.Context(), userID, strings.TrimSpace(req.Topic))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, viewOf(session))
}

// owned loads the session addressed by the URL and checks it belongs to the
// caller. Sessions of other users are reported as not found.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (domain.Session, bool) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.coach.Get(r.Context(), sessionID)
	if err != nil {
		serviceError(w, r, err)
		return domain.Session{}, false
	}
	if session.UserID != userID {
		slog.Warn("Session accessed by another user", "session_id", sessionID, "user_id", userID)
		Error(w, http.StatusNotFound, "session not found")
		return domain.Session{}, false
	}
	return session, true
}

// GetSession handles GET /api/sessions/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.owned(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, viewOf(session))
}

// PostTurn handles POST /api/sessions/{sessionID}/turns.
func (h *Handler) PostTurn(w http.ResponseWriter, r *http.Request) {
	session, ok := h.owned(w, r)
	if !ok {
		return
	}

	// Keyed by user, not session, so clients cannot bypass throttling by
	// opening more sessions.
	if !h.rateLimiter.Allow(session.UserID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req turnRequest
	if !h.decodeBody(w, r, &req, false) {
		return
	}

	slog.Info("Coach turn request",
		"user_id", session.UserID,
		"session_id", session.ID,
		"phase", session.Phase,
		"message_length", len(req.Message),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	res, err := h.coach.Turn(r.Context(), session.ID, req.Message)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	if res.Essay != nil {
		h.sockets.CloseSession(session.ID, "essay delivered")
	}
	JSON(w, http.StatusOK, newTurnResponse(res))
}

// Deliver handles POST /api/sessions/{sessionID}/deliver.
func (h *Handler) Deliver(w http.ResponseWriter, r *http.Request) {
	session, ok := h.owned(w, r)
	if !ok {
		return
	}

	essay, err := h.coach.Deliver(r.Context(), session.ID)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	h.sockets.CloseSession(session.ID, "essay delivered")
	JSON(w, http.StatusOK, essay)
}

// CancelSession handles DELETE /api/sessions/{sessionID}.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.owned(w, r)
	if !ok {
		return
	}

	if err := h.coach.Cancel(r.Context(), session.ID); err != nil {
		serviceError(w, r, err)
		return
	}
	h.sockets.CloseSession(session.ID, "session cancelled")
	JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// GetInstructions handles GET /api/sessions/{sessionID}/instructions. The
// document is returned as plain text.
func (h *Handler) GetInstructions(w http.ResponseWriter, r *http.Request) {
	session, ok := h.owned(w, r)
	if !ok {
		return
	}

	doc, err := h.coach.Instructions(r.Context(), session.ID)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc.String())); err != nil {
		slog.Debug("Failed to write instructions", "session_id", session.ID, "error", err)
	}
}
