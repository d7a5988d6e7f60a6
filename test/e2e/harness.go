// Package e2e boots complete troupe instances against a real database,
// a real in-process ranking tier, and a scripted completion endpoint, then
// drives them through the public HTTP API.
package e2e

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/troupe-ai/troupe/pkg/api"
	"github.com/troupe-ai/troupe/pkg/artifacts"
	"github.com/troupe-ai/troupe/pkg/completion"
	"github.com/troupe-ai/troupe/pkg/config"
	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/masking"
	"github.com/troupe-ai/troupe/pkg/planner"
	"github.com/troupe-ai/troupe/pkg/queue"
	"github.com/troupe-ai/troupe/pkg/ranking"
	"github.com/troupe-ai/troupe/pkg/services"
	testutil "github.com/troupe-ai/troupe/test/util"
)

// TestApp is a complete troupe instance for e2e testing: real database,
// real ranking tier, real worker pool and API server, scripted completion
// endpoint.
type TestApp struct {
	Config   *config.Config
	DBClient *database.Client

	// Completion is the scripted chat-completions endpoint every node calls.
	Completion *MockCompletion

	// Store-level services, for assertions the HTTP surface does not expose.
	Runs      *services.RunService
	Nodes     *services.NodeService
	Artifacts *services.ArtifactService
	Events    *services.EventService

	WorkerPool *queue.WorkerPool
	Server     *api.Server

	// BaseURL is the orchestrator API root, e.g. "http://127.0.0.1:54321".
	BaseURL string

	// RankingURL is the in-process ranking tier's root.
	RankingURL string

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	settings *config.Settings
	script   CompletionScript
	dbClient *database.Client
	podID    string
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithSettings replaces the executor tunables. Tests use this to pinch the
// budget cap or the node timeout.
func WithSettings(s *config.Settings) TestAppOption {
	return func(c *testAppConfig) { c.settings = s }
}

// WithCompletionScript pre-loads the completion endpoint's script.
func WithCompletionScript(script CompletionScript) TestAppOption {
	return func(c *testAppConfig) { c.script = script }
}

// WithDBClient injects a pre-created database client, skipping the default
// per-test schema creation. Used when two instances must share one schema.
func WithDBClient(client *database.Client) TestAppOption {
	return func(c *testAppConfig) { c.dbClient = client }
}

// WithPodID overrides the auto-generated pod identity.
func WithPodID(id string) TestAppOption {
	return func(c *testAppConfig) { c.podID = id }
}

// testSettings returns executor tunables tightened for tests: a fast poll
// tick and wall-clock limits that fail hanging runs inside the suite's
// own timeout.
func testSettings() *config.Settings {
	return &config.Settings{
		MaxParallelRuns:        2,
		MaxParallelNodesPerRun: 4,
		MaxUsdPerRun:           5.0,
		NodeTimeout:            30 * time.Second,
		RunTimeout:             120 * time.Second,
		PollInterval:           100 * time.Millisecond,
	}
}

// NewTestApp creates and starts a full troupe instance. Shutdown is
// registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()
	ctx := context.Background()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.settings == nil {
		tc.settings = testSettings()
	}
	if tc.podID == "" {
		tc.podID = fmt.Sprintf("e2e-%s", t.Name())
	}

	// 1. Database: per-test schema with migrations applied.
	dbClient := tc.dbClient
	if dbClient == nil {
		dbClient = testutil.SetupTestDatabase(t)
	}

	// 2. Scripted completion endpoint.
	mock := NewMockCompletion(t)
	if tc.script != nil {
		mock.SetScript(tc.script)
	}

	// 3. Real ranking tier over the same database.
	rankingURL := startRankingTier(t, dbClient)

	cfg := &config.Config{
		Home:     t.TempDir(),
		Settings: tc.settings,
		Queue: &config.QueueConfig{
			PollIntervalJitter:      50 * time.Millisecond,
			HeartbeatInterval:       1 * time.Second,
			OrphanThreshold:         1 * time.Minute,
			GracefulShutdownTimeout: 10 * time.Second,
		},
		Retention:  config.DefaultRetentionConfig(),
		Completion: &config.CompletionConfig{BaseURL: mock.URL(), APIKey: "test-key", MaxTokens: 1024},
		Ranking:    &config.RankingConfig{BaseURL: rankingURL, Timeout: 5 * time.Second},
		Ranker:     config.DefaultRankerConfig(),
	}

	// 4. Artifact store under the test home.
	store, err := artifacts.NewStore(cfg.ArtifactDir())
	require.NoError(t, err)

	// 5. Store services, with the production masker in the write paths.
	masker := masking.New()
	runService := services.NewRunService(dbClient)
	nodeService := services.NewNodeService(dbClient, masker)
	artifactService := services.NewArtifactService(dbClient, store)
	eventService := services.NewEventService(dbClient, masker)
	warningsService := services.NewSystemWarningsService()

	// 6. Planner against the live ranking tier.
	rankingClient := ranking.NewClient(cfg.Ranking)
	runPlanner := planner.New(rankingClient, cfg.Settings.MaxParallelNodesPerRun)

	// 7. Executor and worker pool.
	completionClient := completion.NewClient(cfg.Completion)
	executor := queue.NewExecutor(runService, nodeService, artifactService, eventService, runPlanner, completionClient, cfg.Settings)
	workerPool := queue.NewWorkerPool(tc.podID, runService, cfg, executor)
	workerPool.SetWarningsService(warningsService)
	require.NoError(t, workerPool.Start(ctx))

	// 8. HTTP server on a random port.
	server := api.NewServer(dbClient, runService, nodeService, artifactService, eventService,
		warningsService, completionClient, rankingClient, workerPool)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.StartWithListener(ln) }()

	app := &TestApp{
		Config:     cfg,
		DBClient:   dbClient,
		Completion: mock,
		Runs:       runService,
		Nodes:      nodeService,
		Artifacts:  artifactService,
		Events:     eventService,
		WorkerPool: workerPool,
		Server:     server,
		BaseURL:    "http://" + ln.Addr().String(),
		RankingURL: rankingURL,
		t:          t,
	}

	// Reverse-creation order; the DB schema drop and the mock endpoint's
	// close were registered earlier and run after this.
	t.Cleanup(func() {
		workerPool.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	return app
}
