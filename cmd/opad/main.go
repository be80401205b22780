// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/olegiv/opad-go/internal/bus"
	"github.com/olegiv/opad-go/internal/config"
	"github.com/olegiv/opad-go/internal/handler/api"
	"github.com/olegiv/opad-go/internal/middleware"
	"github.com/olegiv/opad-go/internal/presence"
	"github.com/olegiv/opad-go/internal/scheduler"
	"github.com/olegiv/opad-go/internal/service"
	"github.com/olegiv/opad-go/internal/store"
)

// Version information - injected at build time via ldflags
var (
	appVersion   = "dev"
	appGitCommit = "unknown"
	appBuildTime = "unknown"
)

func main() {
	// Parse CLI flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.BoolVar(showHelp, "h", false, "Show help information (shorthand)")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "oPad - Collaborative Page Sync Server\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OPAD_DB_PATH           SQLite database path (default: ./data/opad.db)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OPAD_SERVER_PORT       Server port (default: 8080)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OPAD_ENV               Environment: development|production (default: development)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OPAD_REDIS_URL         Redis URL for multi-process fanout (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OPAD_KEY_PREFIX        Redis key/channel prefix (default: opad:)\n")
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		_, _ = fmt.Printf("opad %s (commit: %s, built: %s)\n", appVersion, appGitCommit, appBuildTime)
		os.Exit(0)
	}

	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env files if present (development)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Ensure data directory exists
	dbDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Initialize database
	slog.Info("initializing database", "path", cfg.DBPath)
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func(db *sql.DB) {
		err = db.Close()
		if err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}(db)

	// Run migrations
	slog.Info("running database migrations")
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database ready")

	// Event fanout: single-process in-memory by default, Redis pub/sub when
	// configured so multiple server processes share one event plane.
	var eventBus bus.Bus
	if cfg.UseRedis() {
		opts := bus.DefaultRedisBusOptions()
		opts.URL = cfg.RedisURL
		opts.Prefix = cfg.KeyPrefix
		eventBus, err = bus.NewRedisBus(opts, logger)
		if err != nil {
			return fmt.Errorf("initializing redis bus: %w", err)
		}
		slog.Info("event bus initialized", "backend", "redis", "url", cfg.RedisURL)
	} else {
		eventBus = bus.NewMemoryBus(logger)
		slog.Info("event bus initialized", "backend", "memory")
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			slog.Error("error closing event bus", "error", err)
		}
	}()

	// Presence registry follows the same backend choice as the bus.
	var registry presence.Registry
	if cfg.UseRedis() {
		opts := presence.DefaultRedisRegistryOptions()
		opts.URL = cfg.RedisURL
		opts.Prefix = cfg.KeyPrefix
		registry, err = presence.NewRedisRegistry(opts, eventBus, logger)
		if err != nil {
			return fmt.Errorf("initializing redis presence registry: %w", err)
		}
		slog.Info("presence registry initialized", "backend", "redis")
	} else {
		registry = presence.NewMemoryRegistry(eventBus, logger)
		slog.Info("presence registry initialized", "backend", "memory")
	}

	// Sync coordinator over the page store and event bus
	pages := store.NewPageStore(db)
	syncService := service.NewSyncService(pages, eventBus, logger)

	// Start the presence janitor
	sched := scheduler.New(registry, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	// Setup router
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": appVersion})
	})

	apiHandler := api.NewHandler(syncService, registry, eventBus, logger)
	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.Routes(r, middleware.EphemeralRateLimit(cfg.EphemeralRPS, cfg.EphemeralBurst))
	})
	slog.Info("sync API mounted at /api/v1")

	// Create server with appropriate timeouts. WriteTimeout stays unset:
	// the SSE endpoint holds response writers open indefinitely.
	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// Start server in goroutine
	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}
