// voicesched - voice scheduling command pipeline server
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

	"github.com/44xclub/voicesched/internal/api"
	"github.com/44xclub/voicesched/internal/config"
	"github.com/44xclub/voicesched/internal/identity"
	"github.com/44xclub/voicesched/internal/intent"
	"github.com/44xclub/voicesched/internal/middleware"
	"github.com/44xclub/voicesched/internal/pipeline"
	"github.com/44xclub/voicesched/internal/store"
	"github.com/44xclub/voicesched/internal/transcribe"
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

	transcriber := transcribe.NewClient(transcribe.Config{
		BaseURL:  cfg.Transcription.BaseURL,
		APIKey:   cfg.Transcription.APIKey,
		Model:    cfg.Transcription.Model,
		Language: cfg.Language,
		Timeout:  cfg.Transcription.Timeout,
	})
	parser := intent.NewClient(intent.Config{
		BaseURL:         cfg.Intent.BaseURL,
		APIKey:          cfg.Intent.APIKey,
		Model:           cfg.Intent.Model,
		Timeout:         cfg.Intent.Timeout,
		DefaultDuration: cfg.DefaultDuration,
	})

	svc := pipeline.NewService(repo, transcriber, parser, pipeline.Config{
		SessionTTL:          cfg.SessionTTL,
		MaxAudioBytes:       cfg.MaxAudioBytes,
		MaxTranscriptChars:  cfg.MaxTranscriptChars,
		DefaultTimezone:     cfg.DefaultTimezone,
		DefaultBlockMinutes: cfg.DefaultDuration,
		CaptureBaseURL:      cfg.FrontendURL,
	})

	// Initialize handlers.
	voiceHandler := api.NewVoiceHandler(svc, cfg.MaxAudioBytes)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	allowedOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		allowedOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	voiceHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start capture session expiry sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline.StartExpirySweeper(ctx, repo)

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

	slog.Info("Server stopped successfully")
}
