// Writing Coach - essay coaching server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/writecoach/internal/api"
	"github.com/ashureev/writecoach/internal/coach"
	"github.com/ashureev/writecoach/internal/config"
	"github.com/ashureev/writecoach/internal/gateway"
	"github.com/ashureev/writecoach/internal/identity"
	"github.com/ashureev/writecoach/internal/intent"
	"github.com/ashureev/writecoach/internal/memory"
	"github.com/ashureev/writecoach/internal/metrics"
	"github.com/ashureev/writecoach/internal/middleware"
	"github.com/ashureev/writecoach/internal/store"
	"github.com/ashureev/writecoach/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "gateway", cfg.Gateway.Kind)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	mem, err := newMemory(cfg, repo)
	if err != nil {
		slog.Error("Failed to initialize preference memory", "error", err)
		os.Exit(1)
	}

	gw, gwHealth, closeGateway, err := newGateway(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize completion gateway", "error", err)
		os.Exit(1)
	}
	defer closeGateway()

	conversationLogger, err := coach.NewConversationLogger(coach.ConversationLogConfig{
		Enabled:    cfg.ConversationLog.Enabled,
		Dir:        cfg.ConversationLog.Dir,
		GlobalFile: globalLogPath(cfg.ConversationLog),
		QueueSize:  cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	events := make(chan coach.Event, 100)

	svc, err := coach.NewService(coach.Deps{
		Gateway:    gw,
		Store:      repo,
		Classifier: intent.NewRules(),
		Memory:     mem,
		Log:        conversationLogger,
		Metrics:    m,
		Events:     events,
		Logger:     logger,
	})
	if err != nil {
		slog.Error("Failed to initialize coaching service", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize handlers.
	sockets := api.NewSocketRegistry()
	handler := api.NewHandler(svc, repo, sockets, cfg)
	defer handler.Close()
	hub := api.NewEventHub(handler, events, cfg)
	defer hub.Close()
	healthHandler := api.NewHealthHandler(repo, gwHealth, svc.LiveSessions, cfg)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.ParseOrigins(cfg.AllowedOrigins)))

	// Public routes.
	r.Handle("/metrics", m.Handler())

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		healthHandler.RegisterHealth(r)
		handler.RegisterRoutes(r)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE streams need long-lived responses, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc.StartSweeper(ctx, cfg.SweepInterval, cfg.SessionTTL, sockets.Expire)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// newMemory chains the configured preference sources: the store first, then
// the YAML file.
func newMemory(cfg *config.Config, repo store.Repository) (memory.Provider, error) {
	var chain memory.Chain
	if cfg.Memory.UseStore {
		chain = append(chain, memory.NewStoreProvider(repo))
	}
	if cfg.Memory.File != "" {
		fp, err := memory.LoadFile(cfg.Memory.File)
		if err != nil {
			return nil, err
		}
		chain = append(chain, fp)
		slog.Info("Preference file loaded", "path", cfg.Memory.File)
	}
	return chain, nil
}

// newGateway builds the configured completion gateway. The returned health
// checker is nil when the gateway cannot report health.
func newGateway(cfg *config.Config, logger *slog.Logger) (gateway.Gateway, api.HealthChecker, func(), error) {
	switch cfg.Gateway.Kind {
	case config.GatewayGRPC:
		gcfg := gateway.DefaultGRPCConfig()
		gcfg.Address = cfg.Gateway.GRPCAddr
		gcfg.ConnectTimeout = cfg.Gateway.ConnectTimeout
		gcfg.RequestTimeout = cfg.Gateway.RequestTimeout
		slog.Info("Connecting to completion service via gRPC", "address", gcfg.Address)
		g, err := gateway.NewGRPC(gcfg, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return g, g, g.Close, nil
	default:
		if cfg.Gateway.APIKey == "" {
			slog.Warn("LLM_API_KEY is not set; completion requests will likely be rejected")
		}
		g := gateway.NewOpenAI(gateway.OpenAIConfig{
			BaseURL:        cfg.Gateway.BaseURL,
			APIKey:         cfg.Gateway.APIKey,
			Model:          cfg.Gateway.Model,
			Temperature:    cfg.Gateway.Temperature,
			RequestTimeout: cfg.Gateway.RequestTimeout,
		}, logger)
		return g, nil, func() {}, nil
	}
}

func globalLogPath(c config.ConversationLogConfig) string {
	if !c.GlobalEnabled {
		return ""
	}
	return c.GlobalPath
}
