// Package completion provides the HTTP client for the chat-completion
// endpoint every task and merge node calls.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/troupe-ai/troupe/pkg/config"
)

// ErrNotConfigured indicates no completion endpoint was configured.
// Not retryable; runs hitting this fail their nodes immediately.
var ErrNotConfigured = errors.New("completion endpoint not configured")

// Client is an OpenAI-compatible chat-completion client.
type Client struct {
	baseURL     string
	apiKey      string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// Usage reports token consumption for one completion call. Missing fields
// default to zero; a missing total defaults to prompt+completion.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Result is the flattened outcome of one completion call.
type Result struct {
	Content string
	Usage   Usage
}

// NewClient creates a Client from completion configuration. The HTTP client
// carries no timeout of its own; callers bound each call via context.
func NewClient(cfg *config.CompletionConfig) *Client {
	return &Client{
		baseURL:     normalizeBaseURL(cfg.BaseURL),
		apiKey:      cfg.APIKey,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{},
	}
}

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// normalizeBaseURL strips trailing slashes and a "/chat/completions" suffix
// so the path is never doubled when the client appends it.
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			// string or array of {text} parts; flattened after decode
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one prompt to the model and returns the flattened response.
// Error text from HTTP failures preserves the status code and a body snippet
// so the executor's retry classifier can see markers like "429" or "503".
func (c *Client) Complete(ctx context.Context, model, prompt string) (*Result, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload := chatRequest{
		Model:       model,
		Messages:    []message{{Role: "user", Content: prompt}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read completion response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("completion endpoint returned status %d: %s",
			resp.StatusCode, bodySnippet(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse completion response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("completion API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, errors.New("completion response contained no choices")
	}

	usage := Usage{}
	if chatResp.Usage != nil {
		usage = *chatResp.Usage
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	content := flattenContent(chatResp.Choices[0].Message.Content)
	slog.Debug("Completion call finished",
		"model", model,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"content_chars", len(content))

	return &Result{Content: content, Usage: usage}, nil
}

// flattenContent accepts the two content encodings OpenAI-compatible servers
// produce: a plain string, or an array of {text} parts joined in order.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(p.Text)
		}
		return b.String()
	}

	return ""
}

// bodySnippet truncates an error response body for inclusion in error text.
func bodySnippet(body []byte) string {
	const max = 300
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
