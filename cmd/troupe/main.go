// Troupe orchestrator server — provides the HTTP API, manages queue workers,
// and drives run execution against the completion endpoint.
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

	"github.com/troupe-ai/troupe/pkg/api"
	"github.com/troupe-ai/troupe/pkg/artifacts"
	"github.com/troupe-ai/troupe/pkg/cleanup"
	"github.com/troupe-ai/troupe/pkg/completion"
	"github.com/troupe-ai/troupe/pkg/config"
	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/masking"
	"github.com/troupe-ai/troupe/pkg/planner"
	"github.com/troupe-ai/troupe/pkg/queue"
	"github.com/troupe-ai/troupe/pkg/ranking"
	"github.com/troupe-ai/troupe/pkg/services"
	"github.com/troupe-ai/troupe/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

// setupLogging installs the default text handler at the level named by
// LOG_LEVEL (debug, info, warn, error). Unknown values fall back to info.
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
	// Parse command-line flags
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

	// Load .env from home before logging setup so LOG_LEVEL can come from it
	envPath := filepath.Join(*home, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	}
	setupLogging()

	httpPort := getEnv("HTTP_PORT", "8080")
	podID := resolvePodID()

	slog.Info("Starting troupe orchestrator",
		"version", version.Full(),
		"http_port", httpPort,
		"pod_id", podID,
		"home", *home)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *home)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (runs embedded migrations)
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

	// 3. Artifact blob store
	store, err := artifacts.NewStore(cfg.ArtifactDir())
	if err != nil {
		slog.Error("Failed to initialize artifact store", "error", err)
		os.Exit(1)
	}
	slog.Info("Artifact store ready", "root", store.Root())

	// 4. Masking and store services
	masker := masking.New()
	runService := services.NewRunService(dbClient)
	nodeService := services.NewNodeService(dbClient, masker)
	artifactService := services.NewArtifactService(dbClient, store)
	eventService := services.NewEventService(dbClient, masker)
	warningsService := services.NewSystemWarningsService()
	slog.Info("Services initialized")

	// 5. Ranking client and planner. The client is lazy; an unreachable
	// ranking tier degrades planning to the fallback tables, never startup.
	rankingClient := ranking.NewClient(cfg.Ranking)
	runPlanner := planner.New(rankingClient, cfg.Settings.MaxParallelNodesPerRun)

	// 6. Completion client
	completionClient := completion.NewClient(cfg.Completion)
	if !completionClient.Configured() {
		slog.Warn("Completion endpoint not configured — runs will fail until COMPLETION_BASE_URL is set")
	}

	// 7. Executor and worker pool (pool start re-queues this pod's leftovers)
	executor := queue.NewExecutor(
		runService, nodeService, artifactService, eventService,
		runPlanner, completionClient, cfg.Settings)

	workerPool := queue.NewWorkerPool(podID, runService, cfg, executor)
	workerPool.SetWarningsService(warningsService)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 8. Retention loop
	cleanupService := cleanup.NewService(cfg.Retention, runService, eventService, store)
	cleanupService.Start(ctx)

	// 9. HTTP server (non-blocking start)
	httpServer := api.NewServer(dbClient, runService, nodeService, artifactService,
		eventService, warningsService, completionClient, rankingClient, workerPool)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Troupe started successfully",
		"pod_id", podID,
		"workers", cfg.Settings.MaxParallelRuns)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: drain HTTP first so no new runs arrive, then
	// stop workers, then the retention loop. The DB closes via defer.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	poolDone := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(poolDone)
	}()
	select {
	case <-poolDone:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(cfg.Queue.GracefulShutdownTimeout + 10*time.Second):
		slog.Warn("Worker pool stop overran its budget — incomplete runs will be orphan-recovered")
	}

	cleanupService.Stop()

	slog.Info("Shutdown complete")
}
