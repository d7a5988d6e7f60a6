package ranker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupe-ai/troupe/pkg/models"
)

func TestLoadOverrides(t *testing.T) {
	t.Run("empty path disables", func(t *testing.T) {
		got, err := loadOverrides("")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("missing file disables", func(t *testing.T) {
		got, err := loadOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("parses entries", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "overrides.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
openai/gpt-4o:
  categories: [coding, general]
  scores:
    coding: 95
`), 0o644))

		got, err := loadOverrides(path)
		require.NoError(t, err)
		require.Contains(t, got, "openai/gpt-4o")
		assert.Equal(t, []string{"coding", "general"}, got["openai/gpt-4o"].Categories)
		assert.Equal(t, 95.0, got["openai/gpt-4o"].Scores["coding"])
	})

	t.Run("malformed yaml fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "overrides.yaml")
		require.NoError(t, os.WriteFile(path, []byte(": not yaml ["), 0o644))

		_, err := loadOverrides(path)
		assert.Error(t, err)
	})
}

func TestApplyOverride(t *testing.T) {
	m := &models.EnrichedModel{
		ID:         "openai/gpt-4o",
		Categories: []models.Category{models.CategoryGeneral},
		Scores:     map[models.Category]float64{models.CategoryGeneral: 70},
	}

	applyOverride(m, scoreOverride{
		Categories: []string{"coding", "no-such-category"},
		Scores:     map[string]float64{"coding": 150, "bogus": 10},
	})

	assert.Equal(t, []models.Category{models.CategoryCoding}, m.Categories)
	assert.Equal(t, 100.0, m.Scores[models.CategoryCoding], "scores clamp to the valid range")
	assert.NotContains(t, m.Scores, models.Category("bogus"))
	assert.Equal(t, 70.0, m.Scores[models.CategoryGeneral], "untouched scores survive")
}

func TestApplyOverride_AllCategoriesUnknown(t *testing.T) {
	m := &models.EnrichedModel{
		ID:         "openai/gpt-4o",
		Categories: []models.Category{models.CategoryGeneral},
	}

	applyOverride(m, scoreOverride{Categories: []string{"bogus"}})

	assert.Equal(t, []models.Category{models.CategoryGeneral}, m.Categories, "category list survives when nothing valid replaces it")
}
