package ranker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/troupe-ai/troupe/pkg/models"
)

// scoreOverride is one entry of the operator-maintained override file.
// Overrides run last in the refresh pipeline and are authoritative.
type scoreOverride struct {
	Categories []string           `yaml:"categories"`
	Scores     map[string]float64 `yaml:"scores"`
}

// loadOverrides reads the YAML override file keyed by canonical model id.
// An empty path disables overrides; a missing file logs and disables.
func loadOverrides(path string) (map[string]scoreOverride, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Score override file not found, continuing without overrides", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read override file: %w", err)
	}

	var overrides map[string]scoreOverride
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse override file %s: %w", path, err)
	}
	return overrides, nil
}

// applyOverride rewrites a model's categories and per-category scores.
// Unknown category names are dropped with a warning rather than failing
// the refresh.
func applyOverride(m *models.EnrichedModel, o scoreOverride) {
	if len(o.Categories) > 0 {
		cats := make([]models.Category, 0, len(o.Categories))
		for _, raw := range o.Categories {
			c := models.Category(raw)
			if !c.Valid() {
				slog.Warn("Ignoring unknown category in override", "model", m.ID, "category", raw)
				continue
			}
			cats = append(cats, c)
		}
		if len(cats) > 0 {
			m.Categories = cats
		}
	}

	for raw, score := range o.Scores {
		c := models.Category(raw)
		if !c.Valid() {
			slog.Warn("Ignoring unknown category in override", "model", m.ID, "category", raw)
			continue
		}
		if m.Scores == nil {
			m.Scores = map[models.Category]float64{}
		}
		m.Scores[c] = clampScore(score)
	}
}
