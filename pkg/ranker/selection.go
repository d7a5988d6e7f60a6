package ranker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"

	"github.com/troupe-ai/troupe/pkg/models"
)

// ErrNoEligibleModels indicates the category/budget/exclude combination
// left no candidates. Mapped to NO_MODEL at the API boundary.
var ErrNoEligibleModels = errors.New("no model matches the requested category and budget")

// budgetBounds returns the inclusive prompt-price band (USD per 1M input
// tokens) for a budget.
func budgetBounds(b models.Budget) (float64, float64) {
	switch b {
	case models.BudgetLow:
		return 0, 1
	case models.BudgetMedium:
		return 0, 5
	case models.BudgetHigh:
		return 2, 20
	default:
		return 0, math.Inf(1)
	}
}

const (
	// Personal and per-tag context signals need strictly more observations
	// than this before they influence a pick.
	minPersonalObservations = 3

	// Community averages need at least this many ratings.
	minCommunityRatings = 10

	contextBoostCap = 15.0
	maxConfidence   = 0.99
)

// Signals carries one category's feedback tables, keyed by model id.
type Signals struct {
	Personal  map[string]models.PersonalScore
	Context   map[string]map[string]models.ContextScore
	Community map[string]models.CommunityScore
}

// blendWeights returns the weight-matrix row for the present signals.
// Absent signals contribute nothing; rows sum to 1 over present signals.
func blendWeights(hasP, hasX, hasC bool) (wB, wP, wX, wC float64) {
	switch {
	case hasP && hasX && hasC:
		return 0.45, 0.20, 0.15, 0.20
	case hasX && hasC:
		return 0.55, 0, 0.20, 0.25
	case hasP && hasC:
		return 0.50, 0.25, 0, 0.25
	case hasP && hasX:
		return 0.60, 0.20, 0.20, 0
	case hasC:
		return 0.70, 0, 0, 0.30
	case hasX:
		return 0.80, 0, 0.20, 0
	case hasP:
		return 0.70, 0.30, 0, 0
	default:
		return 1.0, 0, 0, 0
	}
}

// contextTagRecipes maps a context tag to the benchmark weights used for
// its selection boost. Tags without a recipe contribute nothing.
var contextTagRecipes = map[string]map[string]float64{
	"backend":  {"liveCodeBench": 0.6, "liveBenchAgenticCoding": 0.4},
	"frontend": {"liveCodeBench": 0.5, "arena": 0.5},
	"api":      {"liveCodeBench": 0.5, "liveBenchCoding": 0.5},
	"data":     {"mathIndex": 0.5, "liveBenchCoding": 0.5},
	"math":     {"mathIndex": 1.0},
	"security": {"gpqa": 0.6, "liveCodeBench": 0.4},
	"writing":  {"arena": 0.6, "liveBenchLanguage": 0.4},
	"research": {"gpqa": 0.5, "mmluPro": 0.5},
}

// contextBoost sums max(0,z)·weight·10 over each tag's recipe, capped.
func contextBoost(m *models.EnrichedModel, stats map[string]BenchmarkStats, tags []string) float64 {
	var boost float64
	for _, tag := range tags {
		recipe, ok := contextTagRecipes[tag]
		if !ok {
			continue
		}
		for key, weight := range recipe {
			v, ok := m.Benchmarks[key]
			if !ok {
				continue
			}
			z, ok := zScore(stats, key, v)
			if !ok || z <= 0 {
				continue
			}
			boost += z * weight * 10
		}
	}
	return math.Min(boost, contextBoostCap)
}

// categoryScore is the benchmark term of the blend: the category's own
// composite, falling back to general for models scored only there.
func categoryScore(m *models.EnrichedModel, category models.Category) float64 {
	if s, ok := m.Score(category); ok {
		return s
	}
	s, _ := m.Score(models.CategoryGeneral)
	return s
}

// scoreCandidate computes the blended score and the recommendation
// confidence for one model.
func scoreCandidate(m *models.EnrichedModel, category models.Category, stats map[string]BenchmarkStats, sig Signals, tags []string) (score, conf float64) {
	sb := categoryScore(m, category)

	var sp, sx, sc float64
	var hasP, hasX, hasC bool

	if p, ok := sig.Personal[m.ID]; ok && p.Total() > minPersonalObservations {
		sp = p.Rate()
		hasP = true
	}
	if tagScores, ok := sig.Context[m.ID]; ok {
		var sum float64
		var n int
		for _, tag := range tags {
			if cs, ok := tagScores[tag]; ok && cs.Total() > minPersonalObservations {
				sum += cs.Rate()
				n++
			}
		}
		if n > 0 {
			sx = sum / float64(n)
			hasX = true
		}
	}
	if c, ok := sig.Community[m.ID]; ok && c.TotalRatings >= minCommunityRatings {
		// 1-5 star average mapped onto the unit interval.
		sc = (c.Average() - 1) / 4
		if sc < 0 {
			sc = 0
		} else if sc > 1 {
			sc = 1
		}
		hasC = true
	}

	wB, wP, wX, wC := blendWeights(hasP, hasX, hasC)
	score = sb*wB + 100*sp*wP + 100*sx*wX + 100*sc*wC + contextBoost(m, stats, tags)

	conf = 0.5 + 0.1*float64(len(m.SourcesCovered))
	if _, ok := m.Score(category); ok {
		conf += 0.1
	}
	if _, ok := m.Benchmarks["arena"]; ok {
		conf += 0.1
	}
	if hasP {
		conf += 0.15
	}
	conf = math.Min(conf, maxConfidence)
	return score, conf
}

// rank filters the catalog by budget band and exclusions, scores every
// candidate, and returns them in descending score order with id ties
// broken lexicographically.
func (r *Ranker) rank(ctx context.Context, category models.Category, budget models.Budget, contextTags, exclude []string) []*models.RankedModel {
	cat := r.snapshot()
	lo, hi := budgetBounds(budget)

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	var candidates []*models.EnrichedModel
	for _, m := range cat.Models {
		if excluded[m.ID] {
			continue
		}
		if m.Pricing.Prompt < lo || m.Pricing.Prompt > hi {
			continue
		}
		if !m.HasCategory(category) && !m.HasCategory(models.CategoryGeneral) {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil
	}

	sig := r.loadSignals(ctx, category, contextTags)

	ranked := make([]*models.RankedModel, 0, len(candidates))
	for _, m := range candidates {
		score, conf := scoreCandidate(m, category, cat.Params, sig, contextTags)
		ranked = append(ranked, &models.RankedModel{
			Model:      m.ID,
			Provider:   m.Provider,
			Category:   category,
			Score:      round2(score),
			Confidence: round2(conf),
			Tier:       m.Tier,
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Model < ranked[j].Model
	})
	return ranked
}

// loadSignals pulls the category's feedback tables. Failures degrade to
// benchmark-only selection rather than failing the pick.
func (r *Ranker) loadSignals(ctx context.Context, category models.Category, tags []string) Signals {
	sig := Signals{}
	if r.feedback == nil {
		return sig
	}
	var err error
	if sig.Personal, err = r.feedback.PersonalByCategory(ctx, string(category)); err != nil {
		slog.Warn("Failed to load personal scores", "category", category, "error", err)
	}
	if len(tags) > 0 {
		if sig.Context, err = r.feedback.ContextByCategory(ctx, string(category), tags); err != nil {
			slog.Warn("Failed to load context scores", "category", category, "error", err)
		}
	}
	if sig.Community, err = r.feedback.CommunityByCategory(ctx, string(category)); err != nil {
		slog.Warn("Failed to load community scores", "category", category, "error", err)
	}
	return sig
}

// Pick returns the single best model for a category within a budget band.
func (r *Ranker) Pick(ctx context.Context, category models.Category, budget models.Budget, contextTags, exclude []string) (*models.RankedModel, error) {
	ranked := r.rank(ctx, category, budget, contextTags, exclude)
	if len(ranked) == 0 {
		return nil, ErrNoEligibleModels
	}
	return ranked[0], nil
}

// Recommend returns up to count models, filling one slot per distinct
// provider in descending score order before topping up by pure score.
func (r *Ranker) Recommend(ctx context.Context, category models.Category, budget models.Budget, count int, contextTags, exclude []string) ([]*models.RankedModel, error) {
	ranked := r.rank(ctx, category, budget, contextTags, exclude)
	if len(ranked) == 0 {
		return nil, ErrNoEligibleModels
	}
	if count <= 0 {
		count = 1
	}
	if count > len(ranked) {
		count = len(ranked)
	}

	seen := make(map[string]bool)
	picked := make([]*models.RankedModel, 0, count)
	var skipped []*models.RankedModel
	for _, c := range ranked {
		if len(picked) >= count {
			break
		}
		if seen[c.Provider] {
			skipped = append(skipped, c)
			continue
		}
		seen[c.Provider] = true
		picked = append(picked, c)
	}
	for _, c := range skipped {
		if len(picked) >= count {
			break
		}
		picked = append(picked, c)
	}

	sort.Slice(picked, func(i, j int) bool {
		if picked[i].Score != picked[j].Score {
			return picked[i].Score > picked[j].Score
		}
		return picked[i].Model < picked[j].Model
	})
	return picked, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
