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

	"github.com/olegiv/ctms-go/internal/audit"
	"github.com/olegiv/ctms-go/internal/cache"
	"github.com/olegiv/ctms-go/internal/config"
	"github.com/olegiv/ctms-go/internal/geoip"
	"github.com/olegiv/ctms-go/internal/handler"
	"github.com/olegiv/ctms-go/internal/logging"
	"github.com/olegiv/ctms-go/internal/metrics"
	"github.com/olegiv/ctms-go/internal/middleware"
	"github.com/olegiv/ctms-go/internal/model"
	"github.com/olegiv/ctms-go/internal/scheduler"
	"github.com/olegiv/ctms-go/internal/store"
)

// Version information - injected at build time via ldflags
var (
	appVersion   = "dev"
	appGitCommit = "unknown"
	appBuildTime = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.BoolVar(showHelp, "h", false, "Show help information (shorthand)")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "cTMS - Contest Management System\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		_, _ = fmt.Fprintf(os.Stderr, "  CTMS_DB_PATH           SQLite database path (default: ./data/ctms.db)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  CTMS_SERVER_PORT       Server port (default: 8080)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  CTMS_ENV               Environment: development|production (default: development)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  CTMS_RETENTION_DAYS    Age-based cleanup window in days (default: 90)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  CTMS_REDIS_URL         Redis URL for the stats cache (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  CTMS_GEOIP_DB_PATH     GeoLite2-Country database path (optional)\n")
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if *showVersion {
		_, _ = fmt.Printf("ctms %s (commit: %s, built: %s)\n", appVersion, appGitCommit, appBuildTime)
		os.Exit(0)
	}

	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if present (development)
	_ = godotenv.Load()

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
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(textHandler)
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
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}(db)

	slog.Info("running database migrations")
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database ready")

	auditMetrics := metrics.New()

	// GeoIP enrichment (optional)
	geo := geoip.NewLookup()
	if cfg.GeoIPEnabled() {
		if err := geo.Init(cfg.GeoIPDBPath); err != nil {
			return fmt.Errorf("initializing GeoIP: %w", err)
		}
		defer func() { _ = geo.Close() }()
		slog.Info("GeoIP enrichment enabled", "db", cfg.GeoIPDBPath)
	}

	// Stats cache: Redis when configured, in-process memory otherwise
	var statsCache cache.Cache
	if cfg.UseRedisCache() {
		statsCache, err = cache.NewRedisCache(cache.RedisCacheOptions{
			URL:        cfg.RedisURL,
			Prefix:     cfg.CachePrefix,
			DefaultTTL: cfg.StatsCacheTTLDuration(),
		})
		if err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		slog.Info("using Redis stats cache")
	} else {
		statsCache = cache.NewMemoryCache(cfg.StatsCacheTTLDuration(), 5*time.Minute)
	}
	defer func() { _ = statsCache.Close() }()

	// Audit writer. Its own logger stays on the plain text handler so a
	// persistence failure can never loop back into the queue.
	writer := audit.NewWriter(db, logger, auditMetrics, audit.WriterConfig{
		QueueSize:     cfg.AuditQueueSize,
		Workers:       cfg.AuditWorkers,
		WriteTimeout:  cfg.AuditWriteTimeoutDuration(),
		MaxStackTrace: cfg.AuditMaxStackTrace,
		ErrorLevel:    model.EventLevel(cfg.AuditErrorLevel),
		GeoIP:         geo,
	})
	writer.Start()
	defer writer.Stop()

	// Upgrade the default logger to tee WARN and above into the audit log
	slog.SetDefault(slog.New(logging.NewAuditLogHandler(textHandler, writer)))
	slog.Info("audit log integration enabled", "min_level", "warn")

	queryService := audit.NewQueryService(db, cfg.MaxPageSize)
	retention := audit.NewRetentionService(db, logger, auditMetrics, audit.RetentionConfig{
		Thresholds: audit.Thresholds{
			CountCleanup: cfg.ThresholdCountCleanup,
			AgeCleanup:   cfg.ThresholdAgeCleanup,
		},
		StatsCache:    statsCache,
		StatsCacheTTL: cfg.StatsCacheTTLDuration(),
	})

	// Scheduled retention sweep
	if cfg.RetentionScheduleEnable {
		sched := scheduler.New(retention, writer, logger, scheduler.Config{
			RetentionDays: cfg.RetentionDays,
			MaxLogs:       cfg.RetentionMaxLogs,
		})
		if err := sched.Start(); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer sched.Stop()
	}

	router := buildRouter(db, cfg, writer, queryService, retention, auditMetrics)

	server := &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.ServerAddr(), "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// buildRouter wires the HTTP surface: the admin log viewer and cleanup
// operations behind role checks, plus health and metrics endpoints left
// untraced.
func buildRouter(db *sql.DB, cfg *config.Config, writer *audit.Writer,
	queryService *audit.QueryService, retention *audit.RetentionService,
	auditMetrics *metrics.AuditMetrics) *chi.Mux {

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Identify(roleResolver(db)))
	r.Use(middleware.RequestTrace(writer, "/healthz", "/metrics"))

	healthHandler := handler.NewHealthHandler(db)
	r.Get("/healthz", healthHandler.Health)
	r.Method("GET", "/metrics", auditMetrics.Handler())

	logsHandler := handler.NewLogsHandler(queryService, retention, writer, slog.Default())
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireRole(middleware.RoleAdmin, writer))
		logsHandler.Routes(r)
	})

	return r
}

// roleResolver resolves caller roles from the users table. The audit
// subsystem itself never interprets roles beyond this lookup.
func roleResolver(db *sql.DB) middleware.RoleResolver {
	queries := store.New(db)
	return middleware.RoleResolverFunc(func(ctx context.Context, userID string) (string, error) {
		return queries.GetUserRole(ctx, userID)
	})
}
