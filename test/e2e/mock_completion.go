package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// mergePromptPrefix identifies merge-node calls; the executor's merge prompt
// always opens with this line.
const mergePromptPrefix = "You are merging outputs from multiple sub-agents"

// CompletionCall records one request the executor made to the mock endpoint.
type CompletionCall struct {
	Model  string
	Prompt string
}

// IsMerge reports whether the call came from a merge node.
func (c CompletionCall) IsMerge() bool {
	return strings.HasPrefix(c.Prompt, mergePromptPrefix)
}

// CompletionReply scripts one response. Zero-value token counts fall back to
// a small default so cost accounting always has something to sum.
type CompletionReply struct {
	Content          string
	PromptTokens     int64
	CompletionTokens int64

	// Delay holds the response for the given duration; the executor's
	// per-node timeout fires on the client side while the handler sleeps.
	Delay time.Duration

	// Status, when non-zero, answers with that HTTP status and Body instead
	// of a chat payload.
	Status int
	Body   string
}

// CompletionScript maps a recorded call to its reply. Scripts run on the
// mock server's handler goroutines, so they must not touch testing.T.
type CompletionScript func(call CompletionCall) CompletionReply

// MockCompletion is an OpenAI-compatible chat-completions endpoint with a
// per-test script and a call log. It stands in for the real completion
// provider; everything between it and the API surface is real.
type MockCompletion struct {
	srv *httptest.Server

	mu     sync.Mutex
	calls  []CompletionCall
	script CompletionScript
}

// NewMockCompletion starts the mock endpoint. The default script answers
// every call with a short completion; override per scenario via SetScript.
// The server is closed via t.Cleanup.
func NewMockCompletion(t *testing.T) *MockCompletion {
	t.Helper()

	m := &MockCompletion{
		script: func(CompletionCall) CompletionReply {
			return CompletionReply{Content: "A fine answer from the mock model."}
		},
	}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.srv.Close)
	return m
}

// URL returns the endpoint root for CompletionConfig.BaseURL.
func (m *MockCompletion) URL() string {
	return m.srv.URL
}

// SetScript replaces the response script.
func (m *MockCompletion) SetScript(script CompletionScript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = script
}

// Calls returns a copy of the recorded calls in arrival order.
func (m *MockCompletion) Calls() []CompletionCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// TaskCallCount returns the number of non-merge calls.
func (m *MockCompletion) TaskCallCount() int {
	n := 0
	for _, c := range m.Calls() {
		if !c.IsMerge() {
			n++
		}
	}
	return n
}

// MergeCallCount returns the number of merge-node calls.
func (m *MockCompletion) MergeCallCount() int {
	n := 0
	for _, c := range m.Calls() {
		if c.IsMerge() {
			n++
		}
	}
	return n
}

// MergeCalls returns just the merge-node calls.
func (m *MockCompletion) MergeCalls() []CompletionCall {
	var out []CompletionCall
	for _, c := range m.Calls() {
		if c.IsMerge() {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockCompletion) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	call := CompletionCall{Model: req.Model}
	if len(req.Messages) > 0 {
		call.Prompt = req.Messages[len(req.Messages)-1].Content
	}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	script := m.script
	m.mu.Unlock()

	reply := script(call)
	if reply.Delay > 0 {
		time.Sleep(reply.Delay)
	}
	if reply.Status != 0 {
		http.Error(w, reply.Body, reply.Status)
		return
	}

	promptTokens := reply.PromptTokens
	completionTokens := reply.CompletionTokens
	if promptTokens == 0 && completionTokens == 0 {
		promptTokens, completionTokens = 12, 40
	}

	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": reply.Content}},
		},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
