// Package api provides HTTP handlers for the writing coach API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/writecoach/internal/coach"
	"github.com/ashureev/writecoach/internal/config"
	"github.com/ashureev/writecoach/internal/store"
	"github.com/ashureev/writecoach/internal/workflow"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler serves the coaching API.
type Handler struct {
	coach       *coach.Service
	repo        store.Repository
	rateLimiter *RateLimiter
	sockets     *SocketRegistry
	events      *EventHub
	cfg         *config.Config
}

// NewHandler creates a new Handler. cfg may be nil in tests.
func NewHandler(svc *coach.Service, repo store.Repository, sockets *SocketRegistry, cfg *config.Config) *Handler {
	limit, window := 10, time.Minute
	if cfg != nil {
		limit = cfg.RateLimit.RequestsPerWindow
		window = cfg.RateLimit.WindowDuration
	}
	if sockets == nil {
		sockets = NewSocketRegistry()
	}
	return &Handler{
		coach:       svc,
		repo:        repo,
		rateLimiter: NewRateLimiter(limit, window),
		sockets:     sockets,
		cfg:         cfg,
	}
}

// RegisterRoutes registers the session, preference and essay routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/me", h.GetMe)
	r.Get("/api/config", h.GetConfig)

	r.Post("/api/sessions", h.CreateSession)
	r.Get("/api/sessions/{sessionID}", h.GetSession)
	r.Delete("/api/sessions/{sessionID}", h.CancelSession)
	r.Post("/api/sessions/{sessionID}/turns", h.PostTurn)
	r.Post("/api/sessions/{sessionID}/deliver", h.Deliver)
	r.Get("/api/sessions/{sessionID}/instructions", h.GetInstructions)
	if h.events != nil {
		r.Get("/api/sessions/{sessionID}/events", h.events.HandleStream)
	}

	r.Get("/api/preferences", h.GetPreferences)
	r.Put("/api/preferences", h.PutPreferences)
	r.Delete("/api/preferences", h.DeletePreferences)

	r.Get("/api/essays", h.ListEssays)

	r.Get("/ws/sessions/{sessionID}", h.ServeWebSocket)
}

// SetEventHub attaches the session event stream. Call before RegisterRoutes.
func (h *Handler) SetEventHub(hub *EventHub) {
	h.events = hub
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Close()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps service errors to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, coach.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, coach.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, coach.ErrTurnInProgress):
		return http.StatusConflict, "turn_in_progress"
	case errors.Is(err, coach.ErrSessionCancelled):
		return http.StatusGone, "session cancelled"
	case errors.Is(err, workflow.ErrToolInvocationOutOfPhase):
		return http.StatusConflict, "essay is not approved yet"
	case errors.Is(err, workflow.ErrInvariantViolation):
		return http.StatusConflict, "essay is incomplete"
	case errors.Is(err, workflow.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "coach is unavailable, please retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// serviceError logs err and writes the mapped response. Internal details
// never reach the client.
func serviceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, msg)
}

func (h *Handler) maxBodySize() int64 {
	if h.cfg != nil && h.cfg.SSE.MaxRequestBodySize > 0 {
		return h.cfg.SSE.MaxRequestBodySize
	}
	return defaultMaxRequestBodySize
}

// decodeBody decodes a JSON body, writing the error response itself. An
// empty body is accepted when allowEmpty is set.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize())
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		case allowEmpty && errors.Is(err, io.EOF):
			return true
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
