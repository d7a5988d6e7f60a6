package e2e

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/troupe-ai/troupe/pkg/config"
	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/rankapi"
	"github.com/troupe-ai/troupe/pkg/ranker"
	"github.com/troupe-ai/troupe/pkg/roles"
	"github.com/troupe-ai/troupe/pkg/services"
)

// catalogFeed replaces the OpenRouter feed with a fixed model list, handing
// out fresh copies per fetch the way a real feed parse would.
type catalogFeed struct {
	models []*models.EnrichedModel
}

func (f *catalogFeed) FetchCatalog(ctx context.Context) ([]*models.EnrichedModel, error) {
	out := make([]*models.EnrichedModel, len(f.models))
	for i, m := range f.models {
		clone := *m
		out[i] = &clone
	}
	return out, nil
}

func catalogModel(id string, prompt, completion float64) *models.EnrichedModel {
	provider := id
	if idx := strings.Index(id, "/"); idx > 0 {
		provider = id[:idx]
	}
	return &models.EnrichedModel{
		ID:           id,
		Provider:     provider,
		Pricing:      models.Pricing{Prompt: prompt, Completion: completion},
		Capabilities: models.Capabilities{Streaming: true},
	}
}

// lowBandModels and highBandModels are the catalog ids whose prompt price
// falls inside the low ([0,1]) and high ([2,20]) budget bands. Selection
// assertions check band membership rather than a specific winner so that
// scoring changes do not ripple into the e2e suite.
var (
	lowBandModels  = []string{"google/gemini-2.0-flash", "openai/gpt-4o-mini"}
	highBandModels = []string{"anthropic/claude-opus-4", "anthropic/claude-sonnet-4", "openai/gpt-4o"}
)

// testCatalog covers every budget band the planner asks for: two cheap
// models for the low band, two mid-priced for medium, and a premium model
// that only the high band reaches.
func testCatalog() []*models.EnrichedModel {
	mini := catalogModel("openai/gpt-4o-mini", 0.15, 0.6)
	mini.ContextLength = 128_000

	return []*models.EnrichedModel{
		catalogModel("google/gemini-2.0-flash", 0.1, 0.4),
		mini,
		catalogModel("openai/gpt-4o", 2.5, 10),
		catalogModel("anthropic/claude-sonnet-4", 3, 15),
		catalogModel("anthropic/claude-opus-4", 15, 75),
	}
}

// startRankingTier boots a real ranking service over the test database: a
// Ranker refreshed from the fixed catalog, the role composer, the feedback
// service, and the rankapi HTTP server on a random port. Returns the base
// URL for RankingConfig. Shutdown is registered on t.
func startRankingTier(t *testing.T, dbClient *database.Client) string {
	t.Helper()
	ctx := context.Background()

	cfg := config.DefaultRankerConfig()
	snapshots := services.NewSnapshotService(dbClient)
	feedback := services.NewFeedbackService(dbClient)

	rk, err := ranker.New(cfg, snapshots, feedback)
	require.NoError(t, err)
	rk.SetCatalogSource(&catalogFeed{models: testCatalog()})
	rk.SetAuxSources(nil)
	require.NoError(t, rk.Refresh(ctx))

	composer, err := roles.NewComposer()
	require.NoError(t, err)

	srv := rankapi.NewServer(cfg, rk, composer, feedback, dbClient)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.StartWithListener(ln) }()

	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	return "http://" + ln.Addr().String()
}
