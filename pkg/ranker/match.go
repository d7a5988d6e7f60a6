package ranker

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/troupe-ai/troupe/pkg/models"
)

//go:embed assets/aliases.yaml
var aliasesAsset []byte

// loadAliases parses the embedded alias table mapping feed spellings that
// defeat suffix stripping to canonical catalog ids.
func loadAliases() (map[string]string, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(aliasesAsset, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse alias table: %w", err)
	}
	aliases := make(map[string]string, len(raw))
	for name, id := range raw {
		aliases[normalizeName(name)] = id
	}
	return aliases, nil
}

// matcher resolves a benchmark feed's model spelling to a canonical catalog
// id. Strategies in order: explicit alias, direct id, the hugging_face_id
// the catalog feed supplied, then the bare model part, retried after each
// round of suffix stripping.
type matcher struct {
	aliases map[string]string
	ids     map[string]string
	byHF    map[string]string
	byPart  map[string][]string
}

func newMatcher(entries map[string]*models.EnrichedModel, aliases map[string]string) *matcher {
	m := &matcher{
		aliases: aliases,
		ids:     make(map[string]string, len(entries)),
		byHF:    map[string]string{},
		byPart:  map[string][]string{},
	}
	for id, entry := range entries {
		m.ids[normalizeName(id)] = id
		if entry.HuggingFaceID != "" {
			m.byHF[normalizeName(entry.HuggingFaceID)] = id
		}
		part := modelPart(normalizeName(id))
		m.byPart[part] = append(m.byPart[part], id)
	}
	for _, ids := range m.byPart {
		sort.Strings(ids)
	}
	return m
}

// Resolve maps a raw feed name to a canonical id, stripping one suffix
// token per round until a lookup hits or nothing strips.
func (m *matcher) Resolve(name string) (string, bool) {
	n := normalizeName(name)
	if n == "" {
		return "", false
	}
	for {
		if id, ok := m.lookup(n); ok {
			return id, true
		}
		stripped := stripSuffixToken(n)
		if stripped == n {
			return "", false
		}
		n = stripped
	}
}

func (m *matcher) lookup(n string) (string, bool) {
	if target, ok := m.aliases[n]; ok {
		if id, present := m.ids[normalizeName(target)]; present {
			return id, true
		}
	}
	if id, ok := m.ids[n]; ok {
		return id, true
	}
	if id, ok := m.byHF[n]; ok {
		return id, true
	}
	if ids, ok := m.byPart[modelPart(n)]; ok && len(ids) > 0 {
		return ids[0], true
	}
	return "", false
}

var parenthetical = regexp.MustCompile(`\s*\([^)]*\)`)

// normalizeName lowercases, drops parenthetical qualifiers, and folds
// spaces and underscores to hyphens so feed spellings line up with ids.
func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = parenthetical.ReplaceAllString(n, "")
	n = strings.TrimSpace(n)
	n = strings.ReplaceAll(n, " ", "-")
	n = strings.ReplaceAll(n, "_", "-")
	return n
}

func modelPart(n string) string {
	if idx := strings.LastIndex(n, "/"); idx >= 0 {
		return n[idx+1:]
	}
	return n
}

// Suffix tokens stripped one per round: release dates first, then variant
// and reasoning-effort qualifiers.
var dateSuffixes = []*regexp.Regexp{
	regexp.MustCompile(`-(?:19|20)\d{2}-\d{2}-\d{2}$`),
	regexp.MustCompile(`-(?:19|20)\d{6}$`),
	regexp.MustCompile(`-\d{4}$`),
}

var variantSuffixes = []string{
	"-instruct",
	"-chat",
	"-preview",
	"-latest",
	"-beta",
	"-experimental",
	"-exp",
	"-it",
	"-hf",
	"-fp8",
	"-bf16",
	"-thinking",
	"-reasoning",
	"-high",
	"-medium",
	"-low",
}

func stripSuffixToken(n string) string {
	for _, re := range dateSuffixes {
		if loc := re.FindStringIndex(n); loc != nil && loc[0] > 0 {
			return n[:loc[0]]
		}
	}
	for _, suffix := range variantSuffixes {
		if strings.HasSuffix(n, suffix) && len(n) > len(suffix) {
			return strings.TrimSuffix(n, suffix)
		}
	}
	return n
}

// isReasoningVariant reports whether a raw feed name advertises the
// reasoning configuration of a model. Used to break merge collisions.
func isReasoningVariant(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "thinking") || strings.Contains(n, "reasoning")
}
