package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the sentinel API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Optional bearer token
}

// SentinelClient is a pure HTTP client for the sentinel REST API.
type SentinelClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewSentinelClient creates a new client for the sentinel API.
func NewSentinelClient(cfg Config) *SentinelClient {
	return &SentinelClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *SentinelClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// Evaluate scores a single target.
func (c *SentinelClient) Evaluate(ctx context.Context, kind, reference string, detailed bool) (json.RawMessage, error) {
	body := map[string]any{
		"kind":      kind,
		"reference": reference,
	}
	if detailed {
		body["options"] = map[string]any{"detailed": true}
	}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/evaluate", nil, body)
}

// AnalyzeRelations builds the relation graph around a target.
func (c *SentinelClient) AnalyzeRelations(ctx context.Context, kind, reference string, depth int) (json.RawMessage, error) {
	body := map[string]any{
		"kind":      kind,
		"reference": reference,
	}
	if depth > 0 {
		body["depth"] = depth
	}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/relations", nil, body)
}

// RecentVerdicts returns the latest cached verdicts.
func (c *SentinelClient) RecentVerdicts(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/api/v1/verdicts/recent", q, nil)
}

// Subscribe creates a monitoring subscription for a set of addresses.
func (c *SentinelClient) Subscribe(ctx context.Context, references []string, intervalSeconds int, threshold float64) (json.RawMessage, error) {
	targets := make([]map[string]string, 0, len(references))
	for _, ref := range references {
		targets = append(targets, map[string]string{"kind": "address", "reference": ref})
	}
	body := map[string]any{
		"targets":         targets,
		"intervalSeconds": intervalSeconds,
		"riskThreshold":   threshold,
	}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/monitor/subscriptions", nil, body)
}

// ListSubscriptions lists active monitoring subscriptions.
func (c *SentinelClient) ListSubscriptions(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/monitor/subscriptions", nil, nil)
}
