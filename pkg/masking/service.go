// Package masking redacts credentials from text before it is persisted.
//
// Completion providers echo request details into some error bodies, and
// operators paste keys into task text more often than anyone would like.
// Event messages and node error text pass through a Masker on their way to
// the store, so a leaked credential stops at the write boundary instead of
// living on in the audit trail.
package masking

import "log/slog"

// Masker applies the builtin redaction patterns to free text.
// Created once at application startup. Thread-safe and stateless aside from
// compiled patterns.
type Masker struct {
	patterns []*CompiledPattern
}

// New creates a masker with all builtin patterns compiled eagerly.
func New() *Masker {
	m := &Masker{patterns: compilePatterns()}
	slog.Info("Masking initialized", "patterns", len(m.patterns))
	return m
}

// MaskText applies every pattern to data and returns the redacted result.
// Fail-open: with no patterns compiled the input comes back untouched, and a
// pattern that matches nothing changes nothing.
func (m *Masker) MaskText(data string) string {
	if data == "" {
		return data
	}
	masked := data
	for _, p := range m.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
