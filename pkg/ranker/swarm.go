package ranker

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/troupe-ai/troupe/pkg/models"
)

// Build phases assigned by keyword majority. Keyword-free tasks land in
// the implement phase.
var phaseKeywords = [][]string{
	{"design", "plan", "architect", "spec", "outline", "research", "define"},
	{"setup", "set up", "scaffold", "init", "bootstrap", "provision", "install"},
	{"implement", "build", "create", "write", "code", "develop", "add"},
	{"integrate", "connect", "wire", "combine", "hook up", "compose"},
	{"test", "verify", "validate", "qa", "benchmark", "check"},
	{"deploy", "release", "ship", "document", "docs", "publish", "readme"},
}

const defaultPhase = 2

func classifyPhase(text string) int {
	lower := strings.ToLower(text)
	best := defaultPhase
	bestCount := 0
	for phase, words := range phaseKeywords {
		count := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				count++
			}
		}
		if count > bestCount {
			best = phase
			bestCount = count
		}
	}
	return best
}

// artifactPatterns detect what kind of artifact a sub-task produces.
// Shared categories create dependency edges between phases.
var artifactPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"schema", regexp.MustCompile(`(?i)\b(schema|migration|database|db|table)\b`)},
	{"api", regexp.MustCompile(`(?i)\b(api|endpoint|route|backend|server|service)\b`)},
	{"component", regexp.MustCompile(`(?i)\b(component|ui|frontend|page|view|screen)\b`)},
	{"config", regexp.MustCompile(`(?i)\b(config|configuration|settings|env)\b`)},
	{"test", regexp.MustCompile(`(?i)\b(test|tests|testing|spec|qa)\b`)},
	{"docs", regexp.MustCompile(`(?i)\b(doc|docs|documentation|readme|guide)\b`)},
}

func detectArtifacts(text string) []string {
	var names []string
	for _, p := range artifactPatterns {
		if p.re.MatchString(text) {
			names = append(names, p.name)
		}
	}
	return names
}

// edgeSet holds the DAG adjacency: edges[a][b] means b depends on a.
type edgeSet map[int]map[int]bool

func (e edgeSet) add(from, to int) {
	if from == to {
		return
	}
	if e[from] == nil {
		e[from] = map[int]bool{}
	}
	e[from][to] = true
}

func (e edgeSet) count() int {
	n := 0
	for _, succs := range e {
		n += len(succs)
	}
	return n
}

// Swarm attempts a DAG split of a task: split, classify, build dependency
// edges from build phases, shared artifacts, and stated order, then wave
// the result. An unsplittable task returns decomposed=false.
func (r *Ranker) Swarm(task string, budget models.Budget, maxParallel int) *models.SwarmPlan {
	method, parts := splitTask(task)
	if method == "" {
		return &models.SwarmPlan{Decomposed: false}
	}

	n := len(parts)
	phases := make([]int, n)
	artifacts := make([][]string, n)
	for i, part := range parts {
		phases[i] = classifyPhase(part)
		artifacts[i] = detectArtifacts(part)
	}

	edges := edgeSet{}
	addPhaseEdges(edges, phases)
	addArtifactEdges(edges, phases, artifacts)
	transitiveReduce(n, edges)

	// Numbered lists and conjunctions state an order; chain it on top of
	// the reduced heuristic edges.
	if method == "numbered" || method == "conjunctions" {
		for i := 0; i < n-1; i++ {
			edges.add(i, i+1)
		}
	}

	var warnings []string
	if _, acyclic := topoOrder(n, edges); !acyclic {
		warnings = append(warnings, "dependency cycle detected, falling back to sequential order")
		edges = edgeSet{}
		for i := 0; i < n-1; i++ {
			edges.add(i, i+1)
		}
	}

	waves := assignWaves(n, edges, maxParallel)

	tasks := make([]models.SwarmTask, n)
	var cost models.CostEstimate
	for i, part := range parts {
		taskBudget := adjustBudget(budget, part)
		tasks[i] = models.SwarmTask{
			ID:        fmt.Sprintf("t%d", i+1),
			Task:      part,
			DependsOn: dependencyIDs(edges, i),
			Category:  classifyTask(part),
			Budget:    taskBudget,
			Phase:     phases[i],
			Wave:      waves[i],
			Artifacts: artifacts[i],
		}
		lo, hi := taskCostBounds(taskBudget)
		cost.MinUsd += lo
		cost.MaxUsd += hi
	}
	cost.MinUsd = round4(cost.MinUsd)
	cost.MaxUsd = round4(cost.MaxUsd)

	return &models.SwarmPlan{
		Decomposed: true,
		Method:     method,
		Tasks:      tasks,
		Warnings:   warnings,
		Cost:       &cost,
	}
}

// addPhaseEdges makes every task in a later phase depend on every task of
// the previous phase present in the plan. Phases are compressed to the
// ones that actually occur, so a plan with phases {2,4} still chains them.
func addPhaseEdges(edges edgeSet, phases []int) {
	present := map[int][]int{}
	for i, p := range phases {
		present[p] = append(present[p], i)
	}
	order := make([]int, 0, len(present))
	for p := range present {
		order = append(order, p)
	}
	sort.Ints(order)

	for k := 0; k+1 < len(order); k++ {
		for _, from := range present[order[k]] {
			for _, to := range present[order[k+1]] {
				edges.add(from, to)
			}
		}
	}
}

// addArtifactEdges links tasks sharing an artifact category, earlier phase
// first; equal phases order by position in the split.
func addArtifactEdges(edges edgeSet, phases []int, artifacts [][]string) {
	for a := range artifacts {
		for b := range artifacts {
			if a == b || !sharesArtifact(artifacts[a], artifacts[b]) {
				continue
			}
			if phases[a] < phases[b] || (phases[a] == phases[b] && a < b) {
				edges.add(a, b)
			}
		}
	}
}

func sharesArtifact(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// transitiveReduce drops an edge a→c whenever another direct successor of
// a reaches c. Reachability is computed on the incoming graph so removal
// order cannot change the result.
func transitiveReduce(n int, edges edgeSet) {
	reach := make([]map[int]bool, n)
	var visit func(from int) map[int]bool
	visit = func(from int) map[int]bool {
		if reach[from] != nil {
			return reach[from]
		}
		r := map[int]bool{}
		reach[from] = r
		for succ := range edges[from] {
			r[succ] = true
			for node := range visit(succ) {
				r[node] = true
			}
		}
		return r
	}
	for i := 0; i < n; i++ {
		visit(i)
	}

	type edge struct{ from, to int }
	var drop []edge
	for a, succs := range edges {
		for c := range succs {
			for b := range succs {
				if b != c && reach[b][c] {
					drop = append(drop, edge{a, c})
					break
				}
			}
		}
	}
	for _, e := range drop {
		delete(edges[e.from], e.to)
	}
}

// topoOrder runs Kahn's algorithm; acyclic is false when some node never
// becomes ready.
func topoOrder(n int, edges edgeSet) ([]int, bool) {
	indeg := make([]int, n)
	for _, succs := range edges {
		for to := range succs {
			indeg[to]++
		}
	}

	var ready []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, n)
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)
		for succ := range edges[node] {
			indeg[succ]--
			if indeg[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}
	return order, len(order) == n
}

// assignWaves peels the DAG: sources first, then whatever each completed
// wave releases, splitting any ready set larger than maxParallel across
// consecutive waves. Call only on acyclic graphs.
func assignWaves(n int, edges edgeSet, maxParallel int) []int {
	if maxParallel <= 0 {
		maxParallel = n
	}

	indeg := make([]int, n)
	for _, succs := range edges {
		for to := range succs {
			indeg[to]++
		}
	}

	var ready []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	sort.Ints(ready)

	waves := make([]int, n)
	wave := 0
	for len(ready) > 0 {
		take := maxParallel
		if take > len(ready) {
			take = len(ready)
		}
		batch := ready[:take]
		ready = ready[take:]

		var released []int
		for _, node := range batch {
			waves[node] = wave
			for succ := range edges[node] {
				indeg[succ]--
				if indeg[succ] == 0 {
					released = append(released, succ)
				}
			}
		}
		sort.Ints(released)
		ready = append(ready, released...)
		wave++
	}
	return waves
}

func dependencyIDs(edges edgeSet, node int) []string {
	var preds []int
	for from, succs := range edges {
		if succs[node] {
			preds = append(preds, from)
		}
	}
	sort.Ints(preds)

	ids := make([]string, 0, len(preds))
	for _, p := range preds {
		ids = append(ids, fmt.Sprintf("t%d", p+1))
	}
	return ids
}

// taskCostBounds estimates one task's spend assuming 1K-10K total tokens
// at a representative combined rate for its budget band.
func taskCostBounds(b models.Budget) (minUsd, maxUsd float64) {
	rate := 5.0 // USD per 1M tokens, medium band
	switch b {
	case models.BudgetLow:
		rate = 1.0
	case models.BudgetHigh:
		rate = 20.0
	}
	return 1_000 * rate / 1e6, 10_000 * rate / 1e6
}

func round4(v float64) float64 {
	return math.Round(v*10_000) / 10_000
}
