package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskText(t *testing.T) {
	m := New()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bearer token in an error body",
			input:    `completion API error: 401 for Bearer eyJhbGciOiJIUzI1NiJ9.payload.sig`,
			expected: `completion API error: 401 for Bearer __MASKED_TOKEN__`,
		},
		{
			name:     "provider key pasted into text",
			input:    "invalid key sk-or-v1-0123456789abcdef0123 supplied",
			expected: "invalid key __MASKED_API_KEY__ supplied",
		},
		{
			name:     "api key assignment",
			input:    "request rejected: api_key=0123456789abcdef0123 expired",
			expected: "request rejected: api_key: __MASKED_API_KEY__ expired",
		},
		{
			name:     "token assignment with quotes",
			input:    `config had token: "abcdef0123456789abcdef"`,
			expected: `config had token: __MASKED_TOKEN__`,
		},
		{
			name:     "password assignment",
			input:    "DSN was password=hunter2secret at connect time",
			expected: "DSN was password: __MASKED_PASSWORD__ at connect time",
		},
		{
			name:     "prose with bearer is untouched",
			input:    "the bearer of bad news",
			expected: "the bearer of bad news",
		},
		{
			name:     "short values are untouched",
			input:    "pwd=abc",
			expected: "pwd=abc",
		},
		{
			name:     "plain error text is untouched",
			input:    "completion endpoint returned status 503: upstream down",
			expected: "completion endpoint returned status 503: upstream down",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, m.MaskText(tt.input))
		})
	}
}

func TestMaskTextIsIdempotent(t *testing.T) {
	m := New()

	once := m.MaskText("Bearer sk-0123456789abcdef0123 and api_key=0123456789abcdef0123")
	twice := m.MaskText(once)
	assert.Equal(t, once, twice)
}

func TestMaskerWithNoPatterns(t *testing.T) {
	m := &Masker{}
	assert.Equal(t, "Bearer sk-0123456789abcdef0123", m.MaskText("Bearer sk-0123456789abcdef0123"))
}
