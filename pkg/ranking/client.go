// Package ranking is the orchestrator-side client for the ranking service.
// Every call is best-effort: the planner degrades to hard-coded fallback
// models when the service is unreachable or answers NO_MODEL.
package ranking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/troupe-ai/troupe/pkg/config"
	"github.com/troupe-ai/troupe/pkg/models"
)

// APIError is a structured error from the ranking service envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ranking service error %s: %s", e.Code, e.Message)
}

// IsNoModel reports whether err is the service saying no candidate survived
// filtering, as opposed to a transport or server failure.
func IsNoModel(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "NO_MODEL"
}

// Client calls the ranking service over its HTTP contract.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a ranking client from configuration.
func NewClient(cfg *config.RankingConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
	}
}

// Pick asks for the single best model for a task.
func (c *Client) Pick(ctx context.Context, task string, budget models.Budget, contextTags, exclude []string) (*models.RankedModel, error) {
	q := url.Values{}
	q.Set("task", task)
	if budget != "" {
		q.Set("budget", string(budget))
	}
	if len(contextTags) > 0 {
		q.Set("context", strings.Join(contextTags, ","))
	}
	if len(exclude) > 0 {
		q.Set("exclude", strings.Join(exclude, ","))
	}

	var pick models.RankedModel
	if err := c.get(ctx, "/pick", q, &pick); err != nil {
		return nil, err
	}
	return &pick, nil
}

// Recommend asks for the top count models with provider diversity.
func (c *Client) Recommend(ctx context.Context, task string, budget models.Budget, count int, contextTags, exclude []string) ([]models.RankedModel, error) {
	q := url.Values{}
	q.Set("task", task)
	q.Set("count", strconv.Itoa(count))
	if budget != "" {
		q.Set("budget", string(budget))
	}
	if len(contextTags) > 0 {
		q.Set("context", strings.Join(contextTags, ","))
	}
	if len(exclude) > 0 {
		q.Set("exclude", strings.Join(exclude, ","))
	}

	var recs []models.RankedModel
	if err := c.get(ctx, "/recommend", q, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Decompose asks for a sequential split of the task.
func (c *Client) Decompose(ctx context.Context, task string, budget models.Budget, contextTags []string) (*models.DecomposeResult, error) {
	req := models.DecomposeRequest{
		Task:    task,
		Budget:  budget,
		Context: strings.Join(contextTags, ","),
	}
	var result models.DecomposeResult
	if err := c.post(ctx, "/decompose", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Swarm asks for a DAG split of the task.
func (c *Client) Swarm(ctx context.Context, task string, budget models.Budget, contextTags []string, maxParallel int) (*models.SwarmPlan, error) {
	req := models.SwarmRequest{
		Task:        task,
		Budget:      budget,
		Context:     strings.Join(contextTags, ","),
		MaxParallel: maxParallel,
	}
	var plan models.SwarmPlan
	if err := c.post(ctx, "/swarm", req, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ComposeRole asks the role composer for an enriched prompt.
func (c *Client) ComposeRole(ctx context.Context, req *models.ComposeRoleRequest) (*models.ComposedRole, error) {
	var composed models.ComposedRole
	if err := c.post(ctx, "/roles/compose", req, &composed); err != nil {
		return nil, err
	}
	return &composed, nil
}

// Status fetches the ranking tier's observable state.
func (c *Client) Status(ctx context.Context) (*models.RankingStatus, error) {
	var status models.RankingStatus
	if err := c.get(ctx, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Reachable reports whether the service answers its status endpoint.
// Used by the orchestrator health check.
func (c *Client) Reachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	return err == nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create ranking request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal ranking request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create ranking request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// envelope is the ranking contract's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

func (c *Client) do(req *http.Request, out any) error {
	if c.timeout > 0 {
		ctx, cancel := context.WithTimeout(req.Context(), c.timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ranking request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read ranking response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to parse ranking response (status %d): %w", resp.StatusCode, err)
	}
	if env.Error != nil {
		return env.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ranking service returned status %d", resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode ranking payload: %w", err)
		}
	}
	return nil
}
