// Rankd is the ranking tier: it maintains the enriched model catalog from
// the benchmark feeds and serves selection, decomposition, feedback, and
// role composition over HTTP for the orchestrator.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/troupe-ai/troupe/pkg/config"
	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/rankapi"
	"github.com/troupe-ai/troupe/pkg/ranker"
	"github.com/troupe-ai/troupe/pkg/roles"
	"github.com/troupe-ai/troupe/pkg/services"
	"github.com/troupe-ai/troupe/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setupLogging() {
	level := slog.LevelInfo
	raw := os.Getenv("LOG_LEVEL")
	if raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			level = slog.LevelInfo
			slog.Warn("Unknown LOG_LEVEL, using info", "value", raw)
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	home := flag.String("home",
		getEnv("TROUPE_HOME", ""),
		"Path to the troupe home directory (default ~/.troupe)")
	flag.Parse()

	if *home == "" {
		resolved, err := config.ResolveHome()
		if err != nil {
			slog.Error("Failed to resolve home directory", "error", err)
			os.Exit(1)
		}
		*home = resolved
	}

	envPath := filepath.Join(*home, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	}
	setupLogging()

	httpPort := getEnv("RANKD_PORT", "8090")

	slog.Info("Starting rankd",
		"version", version.Full(),
		"http_port", httpPort,
		"home", *home)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *home)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (shared with the orchestrator tier)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Persistence-backed ranker services
	snapshotService := services.NewSnapshotService(dbClient)
	feedbackService := services.NewFeedbackService(dbClient)

	// 4. Ranker: restore the last catalog, then refresh in the background.
	// A missing or stale snapshot is fine — the first refresh rebuilds it.
	rk, err := ranker.New(cfg.Ranker, snapshotService, feedbackService)
	if err != nil {
		slog.Error("Failed to initialize ranker", "error", err)
		os.Exit(1)
	}
	if err := rk.LoadSnapshot(ctx); err != nil {
		slog.Warn("Catalog snapshot restore failed, starting empty", "error", err)
	}
	rk.Start(ctx)

	// 5. Role composer from the embedded block catalog
	composer, err := roles.NewComposer()
	if err != nil {
		slog.Error("Failed to load role blocks", "error", err)
		os.Exit(1)
	}

	// 5a. Hourly housekeeping for the community rate-limit table
	houseCtx, houseCancel := context.WithCancel(ctx)
	defer houseCancel()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-houseCtx.Done():
				return
			case <-ticker.C:
				n, err := feedbackService.PruneRateLimitWindows(houseCtx)
				if err != nil {
					slog.Error("Rate limit window prune failed", "error", err)
				} else if n > 0 {
					slog.Info("Pruned rate limit windows", "count", n)
				}
			}
		}
	}()

	// 6. HTTP server (non-blocking start)
	httpServer := rankapi.NewServer(cfg.Ranker, rk, composer, feedbackService, dbClient)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: drain HTTP, stop the refresh loop, close the DB
	// via defer. An in-flight refresh finishes or aborts with the context.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	rk.Stop()

	slog.Info("Shutdown complete")
}
