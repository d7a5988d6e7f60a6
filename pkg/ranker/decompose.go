package ranker

import (
	"regexp"
	"strings"

	"github.com/troupe-ai/troupe/pkg/models"
)

// Task splitters, tried in order; the first yielding at least two
// non-empty parts wins.
var (
	numberedMarker    = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)
	bulletMarker      = regexp.MustCompile(`(?m)^\s*[-*•]\s+`)
	conjunctionMarker = regexp.MustCompile(`(?i)\s*\b(?:and then|then|next|finally|after that|afterwards|lastly|and)\b[\s,]*`)
	paragraphBreak    = regexp.MustCompile(`\n\s*\n`)
)

type splitter struct {
	method string
	split  func(string) []string
}

var taskSplitters = []splitter{
	{"numbered", func(s string) []string { return splitOn(numberedMarker, s) }},
	{"bulleted", func(s string) []string { return splitOn(bulletMarker, s) }},
	{"conjunctions", func(s string) []string { return splitOn(conjunctionMarker, s) }},
	{"semicolons", func(s string) []string { return cleanParts(strings.Split(s, ";")) }},
	{"paragraphs", func(s string) []string { return splitOn(paragraphBreak, s) }},
}

// splitTask runs the splitter cascade. An empty method means no pattern
// produced two or more parts.
func splitTask(task string) (method string, parts []string) {
	for _, sp := range taskSplitters {
		if parts := sp.split(task); len(parts) >= 2 {
			return sp.method, parts
		}
	}
	return "", nil
}

func splitOn(re *regexp.Regexp, s string) []string {
	return cleanParts(re.Split(s, -1))
}

func cleanParts(raw []string) []string {
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// categoryKeywords drive the keyword-majority classifier used on each
// sub-task. Ties and keyword-free tasks fall back to general.
var categoryKeywords = []struct {
	category models.Category
	words    []string
}{
	{models.CategoryCoding, []string{
		"code", "implement", "build", "api", "endpoint", "function", "refactor",
		"bug", "debug", "deploy", "database", "backend", "frontend", "script",
		"test", "schema", "server", "compile",
	}},
	{models.CategoryReasoning, []string{
		"analyze", "solve", "prove", "logic", "math", "calculate", "derive",
		"evaluate", "decide", "reason", "deduce",
	}},
	{models.CategoryCreative, []string{
		"write", "story", "poem", "haiku", "essay", "blog", "draft", "slogan",
		"creative", "song", "tagline", "copy",
	}},
	{models.CategoryResearch, []string{
		"research", "investigate", "summarize", "survey", "literature",
		"sources", "review", "compare",
	}},
	{models.CategoryVision, []string{
		"image", "diagram", "screenshot", "photo", "chart", "picture",
	}},
}

// ClassifyTask maps a free-text task description to the category with the
// most keyword hits, defaulting to general. The serving tier uses this to
// turn the pick/recommend task parameter into a catalog category.
func ClassifyTask(text string) models.Category {
	return classifyTask(text)
}

// classifyTask picks the category with the most keyword hits.
func classifyTask(text string) models.Category {
	lower := strings.ToLower(text)
	best := models.CategoryGeneral
	bestCount := 0
	for _, ck := range categoryKeywords {
		count := 0
		for _, word := range ck.words {
			if strings.Contains(lower, word) {
				count++
			}
		}
		if count > bestCount {
			best = ck.category
			bestCount = count
		}
	}
	return best
}

var (
	budgetDowngradeWords = []string{"simple", "quick", "boilerplate", "trivial", "basic", "straightforward", "easy"}
	budgetUpgradeWords   = []string{"critical", "complex", "architecture", "security", "performance", "optimize", "core"}
)

// adjustBudget shifts a sub-task's budget one step down on a downgrade
// keyword and one step up on an upgrade keyword; both together keep the
// base budget.
func adjustBudget(base models.Budget, text string) models.Budget {
	lower := strings.ToLower(text)
	down := containsAny(lower, budgetDowngradeWords)
	up := containsAny(lower, budgetUpgradeWords)
	if down == up {
		return base
	}
	if down {
		return budgetStep(base, -1)
	}
	return budgetStep(base, +1)
}

func budgetStep(b models.Budget, delta int) models.Budget {
	ladder := []models.Budget{models.BudgetLow, models.BudgetMedium, models.BudgetHigh}
	idx := 1 // treat any as medium for shifting
	for i, step := range ladder {
		if step == b {
			idx = i
			break
		}
	}
	idx += delta
	if idx < 0 {
		idx = 0
	}
	if idx > len(ladder)-1 {
		idx = len(ladder) - 1
	}
	return ladder[idx]
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Decompose attempts a sequential split of a task into classified,
// re-budgeted sub-tasks. An unsplittable task returns decomposed=false so
// callers can fall back to single-mode.
func (r *Ranker) Decompose(task string, budget models.Budget) *models.DecomposeResult {
	method, parts := splitTask(task)
	if method == "" {
		return &models.DecomposeResult{Decomposed: false}
	}

	subtasks := make([]models.Subtask, 0, len(parts))
	for _, part := range parts {
		subtasks = append(subtasks, models.Subtask{
			Task:     part,
			Category: classifyTask(part),
			Budget:   adjustBudget(budget, part),
		})
	}
	return &models.DecomposeResult{Decomposed: true, Method: method, Subtasks: subtasks}
}
