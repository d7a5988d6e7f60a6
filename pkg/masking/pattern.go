package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns is the redaction table applied to every masked string, in
// order. Replacements canonicalize the key name, so "apiKey: xyz" and
// "api-key=xyz" both come out as the same masked form.
var builtinPatterns = []struct {
	name        string
	pattern     string
	replacement string
}{
	{
		name:        "bearer_token",
		pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{12,}`,
		replacement: `Bearer __MASKED_TOKEN__`,
	},
	{
		name:        "provider_key",
		pattern:     `\bsk-[A-Za-z0-9_\-]{16,}`,
		replacement: `__MASKED_API_KEY__`,
	},
	{
		name:        "api_key",
		pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-]{16,}["']?`,
		replacement: `api_key: __MASKED_API_KEY__`,
	},
	{
		name:        "token",
		pattern:     `(?i)(?:token|jwt)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-\.]{16,}["']?`,
		replacement: `token: __MASKED_TOKEN__`,
	},
	{
		name:        "password",
		pattern:     `(?i)(?:password|passwd|pwd)["']?\s*[:=]\s*["']?[^"'\s]{6,}["']?`,
		replacement: `password: __MASKED_PASSWORD__`,
	},
}

// compilePatterns compiles the builtin table. Invalid patterns are logged and
// skipped, never fatal: losing one pattern is better than refusing to start.
func compilePatterns() []*CompiledPattern {
	compiled := make([]*CompiledPattern, 0, len(builtinPatterns))
	for _, p := range builtinPatterns {
		re, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		compiled = append(compiled, &CompiledPattern{
			Name:        p.name,
			Regex:       re,
			Replacement: p.replacement,
		})
	}
	return compiled
}
