// Voice onboarding session engine server.
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
	"github.com/linqmd/voice-onboarding/internal/ai"
	"github.com/linqmd/voice-onboarding/internal/api"
	"github.com/linqmd/voice-onboarding/internal/catalogue"
	"github.com/linqmd/voice-onboarding/internal/config"
	"github.com/linqmd/voice-onboarding/internal/identity"
	"github.com/linqmd/voice-onboarding/internal/middleware"
	"github.com/linqmd/voice-onboarding/internal/store"
	"github.com/linqmd/voice-onboarding/internal/voice"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	if cfg.Gemini.APIKey == "" {
		slog.Warn("GEMINI_API_KEY not set; extraction turns will fall back to re-asking")
	}
	gemini := ai.NewGeminiClient(ai.GeminiConfig{
		APIKey:     cfg.Gemini.APIKey,
		Model:      cfg.Gemini.Model,
		BaseURL:    cfg.Gemini.BaseURL,
		Timeout:    cfg.Gemini.Timeout,
		MaxRetries: cfg.Gemini.MaxRetries,
		RetryDelay: cfg.Gemini.RetryDelay,
	}, logger)

	turnLog, err := voice.NewTurnLogger(voice.TurnLogConfig{
		Enabled:   cfg.TurnLog.Enabled,
		Dir:       cfg.TurnLog.Dir,
		QueueSize: cfg.TurnLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize turn logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := turnLog.Close(); closeErr != nil {
			slog.Error("Failed to close turn logger", "error", closeErr)
		}
	}()

	// Initialize services.
	extractor := voice.NewExtractor(gemini, cfg.Gemini.RetryDelay, logger)
	tracker := voice.NewTracker(cfg.ConfidenceThreshold)
	svc := voice.NewService(repo, extractor, tracker, catalogue.Default(),
		cfg.SessionTimeout, turnLog, logger)

	hub := api.NewEventHub(cfg.FrontendURL, cfg.IsDevelopment(), logger)
	svc.SetEventPublisher(hub)

	// Initialize handlers.
	rateLimiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window)
	voiceHandler := api.NewVoiceHandler(svc, hub, rateLimiter, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	voiceHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket event streams stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	// Start the idle-session sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := voice.NewSweeper(repo, cfg.SessionTimeout, cfg.SweepInterval, logger)
	sweeper.Start(ctx)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	sweeper.Wait()
	slog.Info("Server stopped successfully")
}
