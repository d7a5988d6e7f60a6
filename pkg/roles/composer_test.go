package roles

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupe-ai/troupe/pkg/models"
)

func newComposer(t *testing.T) *Composer {
	t.Helper()
	c, err := NewComposer()
	require.NoError(t, err)
	return c
}

func TestCompose_FullRequest(t *testing.T) {
	c := newComposer(t)

	composed := c.Compose(&models.ComposeRoleRequest{
		Task:       "Build the payments service",
		Persona:    "backend",
		Stack:      []string{"go", "postgres"},
		Domain:     "fintech",
		Format:     "markdown",
		Guardrails: []string{"no-secrets", "conservative-changes"},
	})

	assert.Empty(t, composed.Warnings)
	prompt := composed.Prompt

	assert.True(t, strings.HasPrefix(prompt, "## Role: Backend Engineer\n"))
	assert.Contains(t, prompt, "### Stack\n- Write idiomatic Go")
	assert.Contains(t, prompt, "### Domain\n- Money values are integers")
	assert.Contains(t, prompt, "### Output\n- Output GitHub-flavored Markdown")
	assert.Contains(t, prompt, "### Rules\n- Never include credentials")
	assert.Contains(t, prompt, "\nStyle: structured markdown\n")
	assert.True(t, strings.HasSuffix(prompt, "## Task\nBuild the payments service"))

	// Section order is fixed
	order := []string{"## Role:", "### Stack", "### Domain", "### Output", "### Rules", "Style:", "## Task"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(prompt, marker)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", marker)
		assert.Greater(t, idx, last, "section %q out of order", marker)
		last = idx
	}
}

func TestCompose_UnknownKeysWarnButCompose(t *testing.T) {
	c := newComposer(t)

	composed := c.Compose(&models.ComposeRoleRequest{
		Task:       "Do the thing",
		Persona:    "wizard",
		Stack:      []string{"go", "cobol"},
		Domain:     "numerology",
		Guardrails: []string{"no-secrets"},
	})

	assert.ElementsMatch(t, []string{
		"unknown persona: wizard",
		"unknown stack entry: cobol",
		"unknown domain: numerology",
	}, composed.Warnings)

	// Known blocks still compose
	assert.Contains(t, composed.Prompt, "### Stack\n- Write idiomatic Go")
	assert.Contains(t, composed.Prompt, "### Rules")
	assert.Contains(t, composed.Prompt, "## Task\nDo the thing")
	assert.NotContains(t, composed.Prompt, "## Role:")
}

func TestCompose_NothingResolvesReturnsRawTask(t *testing.T) {
	c := newComposer(t)

	composed := c.Compose(&models.ComposeRoleRequest{
		Task:    "Just answer this",
		Persona: "nonexistent",
		Stack:   []string{"fortran"},
	})

	assert.Equal(t, "Just answer this", composed.Prompt)
	assert.Len(t, composed.Warnings, 2)
}

func TestCompose_EmptyRequestReturnsRawTask(t *testing.T) {
	c := newComposer(t)

	composed := c.Compose(&models.ComposeRoleRequest{Task: "plain task"})
	assert.Equal(t, "plain task", composed.Prompt)
	assert.Empty(t, composed.Warnings)
}

func TestCompose_KeysAreCaseInsensitive(t *testing.T) {
	c := newComposer(t)

	composed := c.Compose(&models.ComposeRoleRequest{
		Task:    "t",
		Persona: "  Backend ",
		Stack:   []string{"GO"},
	})
	assert.Empty(t, composed.Warnings)
	assert.Contains(t, composed.Prompt, "## Role: Backend Engineer")
	assert.Contains(t, composed.Prompt, "### Stack")
}

func TestCompose_StackCap(t *testing.T) {
	c := newComposer(t)

	// Six stacks at two lines each exceeds the ten-line cap
	composed := c.Compose(&models.ComposeRoleRequest{
		Task:  "t",
		Stack: []string{"go", "typescript", "react", "python", "postgres", "kubernetes"},
	})
	assert.Empty(t, composed.Warnings)

	stackSection := sectionOf(t, composed.Prompt, "### Stack")
	assert.Equal(t, maxStackInstructions, strings.Count(stackSection, "\n- "))
}

func TestCompose_GuardrailCap(t *testing.T) {
	c := newComposer(t)

	// Repeat guardrail keys to exceed the cap of six lines
	composed := c.Compose(&models.ComposeRoleRequest{
		Task: "t",
		Guardrails: []string{
			"no-secrets", "cite-sources", "no-speculation",
			"conservative-changes", "pii-safe",
			"no-secrets", "cite-sources", "no-speculation",
		},
	})

	rules := sectionOf(t, composed.Prompt, "### Rules")
	assert.Equal(t, maxGuardrails, strings.Count(rules, "\n- "))
}

// sectionOf extracts one "### X" section body up to the next blank line.
func sectionOf(t *testing.T, prompt, header string) string {
	t.Helper()
	idx := strings.Index(prompt, header)
	require.GreaterOrEqual(t, idx, 0, "missing section %q", header)
	rest := prompt[idx:]
	if end := strings.Index(rest, "\n\n"); end >= 0 {
		return rest[:end]
	}
	return rest
}
