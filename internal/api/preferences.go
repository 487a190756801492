package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/writecoach/internal/domain"
	"github.com/ashureev/writecoach/internal/identity"
)

// maxPreferenceLength bounds stored preference text.
const maxPreferenceLength = 8 << 10

type preferencesBody struct {
	Text *string `json:"text"`
}

// GetMe handles GET /api/me.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	ctx := r.Context()

	user, err := h.repo.GetUser(ctx, userID)
	if err != nil || user == nil {
		slog.Error("Failed to get user", "error", err, "user_id", userID)
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	_, hasPrefs, err := h.repo.GetPreference(ctx, userID)
	if err != nil {
		slog.Error("Failed to get preferences", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     user.UserID,
		"username":    user.Username,
		"preferences": hasPrefs,
		"created_at":  user.CreatedAt,
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{
		"tool": "write",
	}
	if h.cfg != nil {
		out["gateway"] = h.cfg.Gateway.Kind
		out["model"] = h.cfg.Gateway.Model
		out["session_ttl"] = int64(h.cfg.SessionTTL.Seconds())
	}
	JSON(w, http.StatusOK, out)
}

// GetPreferences handles GET /api/preferences. A user who never stored
// preferences gets 404; stored empty text is returned as such.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	text, ok, err := h.repo.GetPreference(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to get preferences", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		Error(w, http.StatusNotFound, "no preferences stored")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"text": text})
}

// PutPreferences handles PUT /api/preferences. The text applies to sessions
// started afterwards; running sessions keep their snapshot.
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var body preferencesBody
	if !h.decodeBody(w, r, &body, false) {
		return
	}
	if body.Text == nil {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(*body.Text) > maxPreferenceLength {
		Error(w, http.StatusBadRequest, "preferences are too long")
		return
	}

	if err := h.repo.PutPreference(r.Context(), userID, *body.Text); err != nil {
		slog.Error("Failed to store preferences", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	slog.Info("Preferences updated", "user_id", userID, "length", len(*body.Text))
	JSON(w, http.StatusOK, map[string]string{"text": *body.Text})
}

// DeletePreferences handles DELETE /api/preferences.
func (h *Handler) DeletePreferences(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if err := h.repo.DeletePreference(r.Context(), userID); err != nil {
		slog.Error("Failed to delete preferences", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListEssays handles GET /api/essays.
func (h *Handler) ListEssays(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	essays, err := h.repo.ListEssays(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list essays", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if essays == nil {
		essays = []*domain.Essay{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"essays": essays})
}
