package ranker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/troupe-ai/troupe/pkg/config"
	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/ranker/sources"
	"github.com/troupe-ai/troupe/pkg/services"
)

const snapshotKey = "catalog"

// SnapshotStore persists catalog snapshots across restarts.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, key string, payload []byte) error
	LoadSnapshot(ctx context.Context, key string) ([]byte, time.Time, error)
}

// FeedbackReader supplies the per-category feedback tables consulted
// during selection.
type FeedbackReader interface {
	PersonalByCategory(ctx context.Context, category string) (map[string]models.PersonalScore, error)
	ContextByCategory(ctx context.Context, category string, tags []string) (map[string]map[string]models.ContextScore, error)
	CommunityByCategory(ctx context.Context, category string) (map[string]models.CommunityScore, error)
}

// CatalogSource is the authoritative model listing feed.
type CatalogSource interface {
	FetchCatalog(ctx context.Context) ([]*models.EnrichedModel, error)
}

// Ranker owns the enriched model catalog and answers selection and
// decomposition queries. The catalog is copy-on-refresh: readers always
// see one consistent snapshot.
type Ranker struct {
	cfg       *config.RankerConfig
	snapshots SnapshotStore
	feedback  FeedbackReader

	catalogSource CatalogSource
	auxSources    []sources.Source
	aliases       map[string]string
	overrides     map[string]scoreOverride

	mu      sync.RWMutex
	catalog *catalog

	refreshing atomic.Bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// New builds a Ranker with HTTP clients for every configured feed. The
// embedded alias table and the optional override file load here so a bad
// asset fails startup instead of the first refresh.
func New(cfg *config.RankerConfig, snapshots SnapshotStore, feedback FeedbackReader) (*Ranker, error) {
	aliases, err := loadAliases()
	if err != nil {
		return nil, err
	}
	overrides, err := loadOverrides(cfg.OverridePath)
	if err != nil {
		return nil, err
	}

	r := &Ranker{
		cfg:       cfg,
		snapshots: snapshots,
		feedback:  feedback,
		aliases:   aliases,
		overrides: overrides,
		catalog:   emptyCatalog(),
		catalogSource: sources.NewOpenRouterClient(
			cfg.Sources.OpenRouterBaseURL, cfg.OpenRouterAPIKey()),
		auxSources: []sources.Source{
			sources.NewArtificialAnalysisClient(
				cfg.Sources.ArtificialAnalysisBaseURL, cfg.ArtificialAnalysisAPIKey()),
			sources.NewHuggingFaceClient(cfg.Sources.HuggingFaceBaseURL),
			sources.NewLMArenaClient(cfg.Sources.LMArenaBaseURL),
			sources.NewLiveBenchClient(cfg.Sources.LiveBenchBaseURL),
		},
	}
	return r, nil
}

// SetCatalogSource replaces the catalog feed. Intended for tests.
func (r *Ranker) SetCatalogSource(src CatalogSource) {
	r.catalogSource = src
}

// SetAuxSources replaces the auxiliary benchmark feeds. Intended for tests.
func (r *Ranker) SetAuxSources(srcs []sources.Source) {
	r.auxSources = srcs
}

func (r *Ranker) snapshot() *catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog
}

func (r *Ranker) swap(c *catalog) {
	r.mu.Lock()
	r.catalog = c
	r.mu.Unlock()
}

// LoadSnapshot restores the last persisted catalog. A missing snapshot
// leaves the empty catalog in place; an unreadable one is discarded.
func (r *Ranker) LoadSnapshot(ctx context.Context) error {
	if r.snapshots == nil {
		return nil
	}
	payload, updatedAt, err := r.snapshots.LoadSnapshot(ctx, snapshotKey)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			slog.Info("No catalog snapshot found, starting empty")
			return nil
		}
		return fmt.Errorf("failed to load catalog snapshot: %w", err)
	}

	cat, err := decodeCatalog(payload)
	if err != nil {
		slog.Warn("Discarding unreadable catalog snapshot", "error", err)
		return nil
	}
	r.swap(cat)
	slog.Info("Catalog snapshot loaded",
		"models", len(cat.Models),
		"updated_at", updatedAt)
	return nil
}

func (r *Ranker) persistSnapshot(ctx context.Context, c *catalog) error {
	if r.snapshots == nil {
		return nil
	}
	payload, err := encodeCatalog(c)
	if err != nil {
		return err
	}
	return r.snapshots.SaveSnapshot(ctx, snapshotKey, payload)
}

// Start launches the background refresh loop: an immediate refresh when
// the catalog is empty or has aged out, then one per RefreshInterval.
func (r *Ranker) Start(ctx context.Context) {
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.refreshLoop(ctx)
}

// Stop halts the refresh loop and waits for it to exit.
func (r *Ranker) Stop() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	<-r.doneCh
}

func (r *Ranker) refreshLoop(ctx context.Context) {
	defer close(r.doneCh)

	if r.needsRefresh() {
		if err := r.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshInProgress) {
			slog.Warn("Initial catalog refresh failed", "error", err)
		}
	}

	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshInProgress) {
				slog.Warn("Catalog refresh failed", "error", err)
			}
		}
	}
}

func (r *Ranker) needsRefresh() bool {
	cat := r.snapshot()
	return len(cat.Models) == 0 || time.Since(cat.FetchedAt) >= r.cfg.RefreshInterval
}

// Status reports the catalog's observable state.
func (r *Ranker) Status() *models.RankingStatus {
	cat := r.snapshot()
	srcs := make(map[string]models.SourceState, len(cat.Sources))
	for name, state := range cat.Sources {
		srcs[name] = state
	}
	return &models.RankingStatus{
		ModelCount:        len(cat.Models),
		SnapshotAt:        cat.FetchedAt,
		Sources:           srcs,
		RefreshInProgress: r.refreshing.Load(),
	}
}

// Models lists catalog entries, optionally filtered by category and
// budget band, sorted by the category score descending.
func (r *Ranker) Models(category models.Category, budget models.Budget) []*models.EnrichedModel {
	cat := r.snapshot()
	lo, hi := budgetBounds(budget)

	out := make([]*models.EnrichedModel, 0, len(cat.Models))
	for _, m := range cat.Models {
		if m.Pricing.Prompt < lo || m.Pricing.Prompt > hi {
			continue
		}
		if category != "" && !m.HasCategory(category) {
			continue
		}
		out = append(out, m)
	}

	scoreOf := func(m *models.EnrichedModel) float64 {
		if category != "" {
			return categoryScore(m, category)
		}
		return categoryScore(m, models.CategoryGeneral)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := scoreOf(out[i]), scoreOf(out[j])
		if si != sj {
			return si > sj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
