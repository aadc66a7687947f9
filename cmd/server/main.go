// Bot dashboard server.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/botdash/internal/api"
	"github.com/ashureev/botdash/internal/bots"
	"github.com/ashureev/botdash/internal/config"
	"github.com/ashureev/botdash/internal/connection"
	"github.com/ashureev/botdash/internal/discord"
	"github.com/ashureev/botdash/internal/identity"
	"github.com/ashureev/botdash/internal/middleware"
	"github.com/ashureev/botdash/internal/session"
	"github.com/ashureev/botdash/internal/store"
	"github.com/ashureev/botdash/internal/users"
	"github.com/ashureev/botdash/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	slog.Info("Starting server", "port", cfg.Port, "store", cfg.StoreDriver, "setup_enabled", cfg.SetupEnabled())

	// Initialize dependencies.
	repo, err := store.Open(cfg.StoreDriver, cfg.DataDir, cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store ready", "driver", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize services.
	sessions := session.NewManager(repo, cfg.SessionTTL)
	sessions.StartSweeper(ctx, cfg.SessionSweepInterval)

	conns := connection.NewManager(connection.DiscordConnector{
		Client: &discord.Client{GatewayURL: cfg.GatewayURL, Intents: cfg.Intents},
	})
	botReg := bots.NewRegistry(repo, conns, bots.Options{TrialTimeout: cfg.TrialTimeout})

	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		botReg.Run(ctx)
	}()

	if added, err := botReg.MigrateLegacyToken(ctx, cfg.LegacyToken); err != nil {
		slog.Error("Failed to migrate legacy bot token", "error", err)
	} else if added {
		slog.Info("Legacy bot token applied")
	}

	restored, err := botReg.Restore(ctx)
	if err != nil {
		slog.Error("Failed to restore bots", "error", err)
		os.Exit(1)
	}
	slog.Info("Bot restore started", "count", restored)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, users.NewRegistry(repo), sessions, botReg, cfg.CookieSecure)

	var pages fs.FS = web.Public()
	if cfg.WebDir != "" {
		pages = os.DirFS(cfg.WebDir)
		slog.Info("Serving pages from disk", "dir", cfg.WebDir)
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(sessions))

	api.NewHealthHandler(baseHandler).RegisterRoutes(r)
	api.NewAuthHandler(baseHandler).RegisterRoutes(r)
	api.NewBotHandler(baseHandler).RegisterRoutes(r)
	api.NewTokenHandler(baseHandler, cfg.SetupKey, cfg.EnvFile).RegisterRoutes(r)

	// Pages and static assets.
	r.Handle("/*", web.PageHandler(pages))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.TrialTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

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
	}

	botReg.Close()
	<-reconcilerDone
	conns.Close()

	slog.Info("Server stopped successfully")
}
