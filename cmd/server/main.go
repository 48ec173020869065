// askstream reference relay server.
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

	"github.com/ashureev/askstream/internal/api"
	"github.com/ashureev/askstream/internal/config"
	"github.com/ashureev/askstream/internal/identity"
	"github.com/ashureev/askstream/internal/logging"
	"github.com/ashureev/askstream/internal/middleware"
	"github.com/ashureev/askstream/internal/relay"
	"github.com/ashureev/askstream/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logCloser.Close()
	slog.SetDefault(logger)

	slog.Info("Starting relay server", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	if len(cfg.AuthTokens) == 0 {
		slog.Warn("RELAY_AUTH_TOKENS not set, accepting any non-empty token")
	}

	// Initialize handlers.
	conns := relay.NewConnManager()
	baseHandler := api.NewHandler(repo)
	questionHandler := api.NewQuestionHandler(baseHandler)
	wsHandler := relay.NewHandler(repo, relay.EchoAnswerer{}, conns, relay.Options{
		FragmentDelay: cfg.FragmentDelay,
		Shuffle:       cfg.ShuffleChunks,
		StallAfter:    cfg.StallAfter,
		DailyQuota:    cfg.DailyQuota,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})
	auth := identity.NewAuthenticator(cfg.AuthTokens)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	r.Get("/ready", baseHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(auth))
		r.Get("/api/question/{id}", questionHandler.Status)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Answers stream for as long as the socket lives, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start retention worker.
	store.StartRetentionWorker(ctx, repo, cfg.Retention)

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

	conns.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
