// Package api is the orchestrator's HTTP surface: run submission, status and
// result retrieval, cancellation, artifact access, the event log, and health.
// It is served by cmd/troupe.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/queue"
	"github.com/troupe-ai/troupe/pkg/services"
)

// CompletionProbe reports whether the completion endpoint is configured.
type CompletionProbe interface {
	Configured() bool
}

// RankingProbe reports whether the ranking service answers its status probe.
type RankingProbe interface {
	Reachable(ctx context.Context) bool
}

// WorkerPool is the slice of the queue pool the API consults for health.
type WorkerPool interface {
	Health() *queue.PoolHealth
}

// Server is the orchestrator API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	dbClient   *database.Client
	runs       *services.RunService
	nodes      *services.NodeService
	artifacts  *services.ArtifactService
	events     *services.EventService
	warnings   *services.SystemWarningsService
	completion CompletionProbe
	ranking    RankingProbe
	pool       WorkerPool
}

// NewServer creates the orchestrator API server and registers all routes.
func NewServer(
	dbClient *database.Client,
	runs *services.RunService,
	nodes *services.NodeService,
	artifacts *services.ArtifactService,
	events *services.EventService,
	warnings *services.SystemWarningsService,
	completion CompletionProbe,
	ranking RankingProbe,
	pool WorkerPool,
) *Server {
	s := &Server{
		echo:       echo.New(),
		dbClient:   dbClient,
		runs:       runs,
		nodes:      nodes,
		artifacts:  artifacts,
		events:     events,
		warnings:   warnings,
		completion: completion,
		ranking:    ranking,
		pool:       pool,
	}
	s.registerMiddleware()
	s.registerRoutes()
	return s
}

func (s *Server) registerMiddleware() {
	s.echo.Use(recoverPanics())
	s.echo.Use(requestLogger())
	s.echo.Use(securityHeaders())
}

func (s *Server) registerRoutes() {
	e := s.echo

	v1 := e.Group("/api/v1")

	// Runs.
	v1.POST("/runs", s.createRunHandler)
	v1.GET("/runs", s.listRunsHandler)
	v1.GET("/runs/:id/status", s.runStatusHandler)
	v1.GET("/runs/:id/result", s.runResultHandler)
	v1.POST("/runs/:id/cancel", s.cancelRunHandler)
	v1.GET("/runs/:id/events", s.runEventsHandler)
	v1.GET("/runs/:id/artifacts/:node_id", s.artifactHandler)

	// System.
	v1.GET("/system/warnings", s.systemWarningsHandler)
	v1.GET("/health", s.healthHandler)

	// Unversioned alias for platform probes.
	e.GET("/health", s.healthHandler)
}

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on an already-bound listener, letting callers
// learn the port before traffic arrives. Tests bind 127.0.0.1:0 and pass
// the listener here.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
