// Package roles assembles role-enriched prompts from a catalog of reusable
// blocks: personas, stack instructions, domain notes, output formats, and
// guardrail sets.
package roles

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/troupe-ai/troupe/pkg/models"
)

//go:embed assets/roles.yaml
var catalogYAML []byte

const (
	maxStackInstructions = 10
	maxGuardrails        = 6
)

type personaBlock struct {
	Title string `yaml:"title"`
	Core  string `yaml:"core"`
}

type formatBlock struct {
	Instructions []string `yaml:"instructions"`
	Style        string   `yaml:"style"`
}

type catalog struct {
	Personas   map[string]personaBlock `yaml:"personas"`
	Stacks     map[string][]string     `yaml:"stacks"`
	Domains    map[string][]string     `yaml:"domains"`
	Formats    map[string]formatBlock  `yaml:"formats"`
	Guardrails map[string][]string     `yaml:"guardrails"`
}

// Composer resolves role block keys against the embedded catalog.
type Composer struct {
	catalog catalog
}

// NewComposer parses the embedded block catalog.
func NewComposer() (*Composer, error) {
	var cat catalog
	if err := yaml.Unmarshal(catalogYAML, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse role catalog: %w", err)
	}
	return &Composer{catalog: cat}, nil
}

// Compose assembles the fixed-shape prompt from whichever blocks resolve.
// Unknown keys produce warnings, not errors; a request that resolves to
// nothing returns the raw task.
func (c *Composer) Compose(req *models.ComposeRoleRequest) *models.ComposedRole {
	var (
		sections []string
		warnings []string
	)

	if key := normalizeKey(req.Persona); key != "" {
		if p, ok := c.catalog.Personas[key]; ok {
			sections = append(sections, fmt.Sprintf("## Role: %s\n%s", p.Title, p.Core))
		} else {
			warnings = append(warnings, "unknown persona: "+key)
		}
	}

	if lines := c.collect(req.Stack, c.catalog.Stacks, maxStackInstructions, "stack entry", &warnings); len(lines) > 0 {
		sections = append(sections, bulletSection("### Stack", lines))
	}

	if key := normalizeKey(req.Domain); key != "" {
		if lines, ok := c.catalog.Domains[key]; ok {
			sections = append(sections, bulletSection("### Domain", lines))
		} else {
			warnings = append(warnings, "unknown domain: "+key)
		}
	}

	style := ""
	if key := normalizeKey(req.Format); key != "" {
		if f, ok := c.catalog.Formats[key]; ok {
			if len(f.Instructions) > 0 {
				sections = append(sections, bulletSection("### Output", f.Instructions))
			}
			style = f.Style
		} else {
			warnings = append(warnings, "unknown format: "+key)
		}
	}

	if lines := c.collect(req.Guardrails, c.catalog.Guardrails, maxGuardrails, "guardrail", &warnings); len(lines) > 0 {
		sections = append(sections, bulletSection("### Rules", lines))
	}

	if style != "" {
		sections = append(sections, "Style: "+style)
	}

	if len(sections) == 0 {
		return &models.ComposedRole{Prompt: req.Task, Warnings: warnings}
	}

	sections = append(sections, "## Task\n"+req.Task)
	return &models.ComposedRole{
		Prompt:   strings.Join(sections, "\n\n"),
		Warnings: warnings,
	}
}

// collect resolves a list of block keys into instruction lines, capped.
func (c *Composer) collect(keys []string, blocks map[string][]string, limit int, kind string, warnings *[]string) []string {
	var lines []string
	for _, raw := range keys {
		key := normalizeKey(raw)
		if key == "" {
			continue
		}
		block, ok := blocks[key]
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("unknown %s: %s", kind, key))
			continue
		}
		lines = append(lines, block...)
	}
	if len(lines) > limit {
		lines = lines[:limit]
	}
	return lines
}

func bulletSection(header string, lines []string) string {
	var b strings.Builder
	b.WriteString(header)
	for _, line := range lines {
		b.WriteString("\n- ")
		b.WriteString(line)
	}
	return b.String()
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
