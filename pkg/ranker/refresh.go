package ranker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/ranker/sources"
)

// ErrRefreshInProgress indicates a concurrent refresh already holds the
// pipeline.
var ErrRefreshInProgress = errors.New("catalog refresh already in progress")

var errEmptyCatalogFeed = errors.New("catalog feed returned no models")

// Aux sources merge in this order; earlier sources win field conflicts.
var mergeOrder = []string{
	sources.SourceArtificialAnalysis,
	sources.SourceHuggingFace,
	sources.SourceLMArena,
	sources.SourceLiveBench,
}

// Refresh rebuilds the catalog from every feed and swaps it in. The
// catalog feed is authoritative: when it fails or returns nothing the
// previous catalog stays, with the failure surfaced in source state. Any
// other feed failing falls back to its last good rows and reports stale.
func (r *Ranker) Refresh(ctx context.Context) error {
	if !r.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer r.refreshing.Store(false)

	started := time.Now()
	prior := r.snapshot()

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.SourceTimeout)
	skeletons, err := r.catalogSource.FetchCatalog(fetchCtx)
	cancel()
	if err != nil {
		r.markCatalogFeedFailure(prior, err)
		return fmt.Errorf("failed to fetch model catalog: %w", err)
	}
	if len(skeletons) == 0 {
		r.markCatalogFeedFailure(prior, errEmptyCatalogFeed)
		return errEmptyCatalogFeed
	}

	entries := make(map[string]*models.EnrichedModel, len(skeletons))
	for _, m := range skeletons {
		entries[m.ID] = m
	}

	states := map[string]models.SourceState{
		sources.SourceOpenRouter: {Status: "ok", Count: len(skeletons), FetchedAt: time.Now().UTC()},
	}
	rows := r.fetchAuxRows(ctx, prior, states)

	m := newMatcher(entries, r.aliases)
	for _, name := range mergeOrder {
		mergeRows(entries, m, name, rows[name])
	}

	propagateVariants(entries)
	for _, entry := range entries {
		entry.Tier = deriveTier(entry.Pricing)
		entry.Categories = deriveCategories(entry)
		entry.Tags = deriveTags(entry)
	}

	stats := computeBenchmarkStats(entries)
	for _, entry := range entries {
		computeScores(entry, stats)
	}
	for id, override := range r.overrides {
		if entry, ok := entries[id]; ok {
			applyOverride(entry, override)
		}
	}

	next := &catalog{
		Models:     entries,
		Params:     stats,
		FetchedAt:  time.Now().UTC(),
		Sources:    states,
		SourceRows: rows,
	}
	r.swap(next)

	if err := r.persistSnapshot(ctx, next); err != nil {
		slog.Warn("Failed to persist catalog snapshot", "error", err)
	}

	stale := 0
	for _, s := range states {
		if s.Status == "stale" {
			stale++
		}
	}
	slog.Info("Catalog refresh complete",
		"models", len(entries),
		"stale_sources", stale,
		"duration_ms", time.Since(started).Milliseconds())
	return nil
}

// markCatalogFeedFailure republishes the prior catalog with the catalog
// feed marked stale so status reflects the aborted refresh.
func (r *Ranker) markCatalogFeedFailure(prior *catalog, err error) {
	next := &catalog{
		Models:     prior.Models,
		Params:     prior.Params,
		FetchedAt:  prior.FetchedAt,
		Sources:    make(map[string]models.SourceState, len(prior.Sources)+1),
		SourceRows: prior.SourceRows,
	}
	for name, state := range prior.Sources {
		next.Sources[name] = state
	}

	priorState := prior.Sources[sources.SourceOpenRouter]
	next.Sources[sources.SourceOpenRouter] = models.SourceState{
		Status:    "stale",
		Count:     priorState.Count,
		FetchedAt: priorState.FetchedAt,
		Error:     err.Error(),
	}
	r.swap(next)
}

// fetchAuxRows pulls every auxiliary source in parallel under the
// per-source timeout. A failed source keeps its last good rows and is
// marked stale with the prior count and timestamp.
func (r *Ranker) fetchAuxRows(ctx context.Context, prior *catalog, states map[string]models.SourceState) map[string][]sources.Row {
	var mu sync.Mutex
	rows := make(map[string][]sources.Row, len(r.auxSources))

	g := new(errgroup.Group)
	for _, src := range r.auxSources {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.SourceTimeout)
			defer cancel()
			fetched, err := src.Fetch(fetchCtx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				priorRows := prior.SourceRows[src.Name()]
				priorState := prior.Sources[src.Name()]
				rows[src.Name()] = priorRows
				states[src.Name()] = models.SourceState{
					Status:    "stale",
					Count:     len(priorRows),
					FetchedAt: priorState.FetchedAt,
					Error:     err.Error(),
				}
				slog.Warn("Benchmark source failed, keeping last known data",
					"source", src.Name(),
					"prior_rows", len(priorRows),
					"error", err)
				return nil
			}
			rows[src.Name()] = fetched
			states[src.Name()] = models.SourceState{
				Status:    "ok",
				Count:     len(fetched),
				FetchedAt: time.Now().UTC(),
			}
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

// mergeRows resolves each row's name to a canonical id, settles collisions
// and writes fields the entry does not already carry from a higher
// priority source.
func mergeRows(entries map[string]*models.EnrichedModel, m *matcher, source string, rows []sources.Row) {
	best := map[string]sources.Row{}
	for _, row := range rows {
		id, ok := m.Resolve(row.Name)
		if !ok {
			continue
		}
		current, exists := best[id]
		if !exists || preferRow(source, row, current) {
			best[id] = row
		}
	}

	for id, row := range best {
		entry := entries[id]
		if entry.Benchmarks == nil {
			entry.Benchmarks = map[string]float64{}
		}
		for key, v := range row.Fields {
			if _, taken := entry.Benchmarks[key]; !taken {
				entry.Benchmarks[key] = v
			}
		}
		if entry.Speed.OutputTokensPerSecond == 0 && row.Speed.OutputTokensPerSecond > 0 {
			entry.Speed = row.Speed
		}
		if !entry.HasSource(source) {
			entry.SourcesCovered = append(entry.SourcesCovered, source)
		}
	}
}

// preferRow settles two rows resolving to the same id: Artificial
// Analysis prefers the reasoning variant, every other source the highest
// raw total.
func preferRow(source string, candidate, current sources.Row) bool {
	if source == sources.SourceArtificialAnalysis {
		return isReasoningVariant(candidate.Name) && !isReasoningVariant(current.Name)
	}
	return fieldTotal(candidate) > fieldTotal(current)
}

func fieldTotal(row sources.Row) float64 {
	var total float64
	for _, v := range row.Fields {
		total += v
	}
	return total
}

// propagateVariants copies benchmarks and speed from each base id to
// variant ids (base:<suffix>) that carry none of their own.
func propagateVariants(entries map[string]*models.EnrichedModel) {
	for id, variant := range entries {
		idx := strings.Index(id, ":")
		if idx <= 0 || len(variant.Benchmarks) > 0 {
			continue
		}
		base, ok := entries[id[:idx]]
		if !ok || len(base.Benchmarks) == 0 {
			continue
		}
		copied := make(map[string]float64, len(base.Benchmarks))
		for key, v := range base.Benchmarks {
			copied[key] = v
		}
		variant.Benchmarks = copied
		variant.Speed = base.Speed
	}
}
