package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/writecoach/internal/config"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker is implemented by gateways that can report their health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    Pinger
	gateway HealthChecker
	live    func() int
	cfg     *config.Config
}

// NewHealthHandler creates a new health handler. gateway and live may be nil.
func NewHealthHandler(repo Pinger, gateway HealthChecker, live func() int, cfg *config.Config) *HealthHandler {
	return &HealthHandler{repo: repo, gateway: gateway, live: live, cfg: cfg}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	healthCheckTimeout := 5 * time.Second
	if h.cfg != nil && h.cfg.Timeout.HealthCheck > 0 {
		healthCheckTimeout = h.cfg.Timeout.HealthCheck
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "dependency", "database", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// An unhealthy gateway degrades the service but does not fail the probe.
	if h.gateway != nil {
		if err := h.gateway.Health(ctx); err != nil {
			slog.Warn("Health check failed", "dependency", "gateway", "error", err)
			status["status"] = "degraded"
			checks["gateway"] = "unreachable"
		} else {
			checks["gateway"] = "ok"
		}
	}

	if h.live != nil {
		status["live_sessions"] = h.live()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the detailed health route. The bare /health
// heartbeat is served by middleware.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
