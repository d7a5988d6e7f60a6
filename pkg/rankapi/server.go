// Package rankapi is the HTTP surface of the ranking tier: model selection,
// task decomposition, swarm planning, role composition, and the feedback
// endpoints that feed the blended scores. It is served by cmd/rankd and
// consumed by the orchestrator through pkg/ranking.
package rankapi

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/config"
	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/ranker"
	"github.com/troupe-ai/troupe/pkg/roles"
)

// FeedbackRecorder is the slice of the feedback service the API writes
// through. Reads go through the ranker's own feedback wiring.
type FeedbackRecorder interface {
	RecordPersonal(ctx context.Context, model, category string, success bool) (*models.PersonalScore, error)
	RecordContext(ctx context.Context, model, category, tag string, success bool) (*models.ContextScore, error)
	RecordCommunity(ctx context.Context, model, category string, rating float64, instanceID string, hourlyLimit int) (*models.CommunityScore, error)
}

// Server is the ranking tier HTTP server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg      *config.RankerConfig
	ranker   *ranker.Ranker
	composer *roles.Composer
	feedback FeedbackRecorder
	dbClient *database.Client
}

// NewServer creates the ranking API server and registers all routes.
func NewServer(cfg *config.RankerConfig, rk *ranker.Ranker, composer *roles.Composer, feedback FeedbackRecorder, dbClient *database.Client) *Server {
	s := &Server{
		echo:     echo.New(),
		cfg:      cfg,
		ranker:   rk,
		composer: composer,
		feedback: feedback,
		dbClient: dbClient,
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

	// Selection and planning.
	e.GET("/pick", s.pickHandler)
	e.GET("/recommend", s.recommendHandler)
	e.POST("/decompose", s.decomposeHandler)
	e.POST("/swarm", s.swarmHandler)
	e.POST("/roles/compose", s.composeRoleHandler)

	// Feedback.
	e.POST("/feedback/personal", s.personalFeedbackHandler)
	e.POST("/feedback/context", s.contextFeedbackHandler)
	e.POST("/feedback/community", s.communityFeedbackHandler)

	// Catalog observability.
	e.GET("/status", s.statusHandler)
	e.GET("/models", s.modelsHandler)
	e.POST("/refresh", s.refreshHandler)
	e.GET("/healthz", s.healthzHandler)
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
