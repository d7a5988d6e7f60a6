package planner

import (
	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/ranker"
)

// Hard-coded fallback models, used only when the ranking service cannot
// answer. They are opinionated, widely available defaults and not part of
// the product surface.
const (
	fallbackCheapModel   = "openai/gpt-4o-mini"
	fallbackPremiumModel = "anthropic/claude-opus-4"
)

var fallbackModels = map[models.Category]string{
	models.CategoryGeneral:   "openai/gpt-4o",
	models.CategoryCoding:    "anthropic/claude-sonnet-4",
	models.CategoryReasoning: "anthropic/claude-sonnet-4",
	models.CategoryCreative:  "openai/gpt-4o",
	models.CategoryResearch:  "google/gemini-2.5-pro",
	models.CategoryFastCheap: "openai/gpt-4o-mini",
	models.CategoryVision:    "openai/gpt-4o",
}

// fallbackModel resolves the default for a category, with budget extremes
// overriding the table: low always gets the cheap default, high the premium
// one.
func fallbackModel(category models.Category, budget models.Budget) string {
	switch budget {
	case models.BudgetLow:
		return fallbackCheapModel
	case models.BudgetHigh:
		return fallbackPremiumModel
	}
	if m, ok := fallbackModels[category]; ok {
		return m
	}
	return fallbackModels[models.CategoryGeneral]
}

// fallbackForTask classifies the task text locally and resolves its
// fallback model.
func fallbackForTask(task string, budget models.Budget) string {
	return fallbackModel(ranker.ClassifyTask(task), budget)
}
