package relations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethersentinel/sentinel/internal/risk"
)

// HTTPModelClient calls the model server's relation analysis endpoint.
type HTTPModelClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPModelClient creates a graph inference client for the model
// server at baseURL.
func NewHTTPModelClient(baseURL string, timeout time.Duration) *HTTPModelClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPModelClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type relationRequest struct {
	Reference     string  `json:"reference"`
	Kind          string  `json:"kind"`
	Depth         int     `json:"depth"`
	MinEdgeWeight float64 `json:"min_edge_weight"`
}

type relationNode struct {
	Address   string  `json:"address"`
	Hop       int     `json:"hop"`
	Balance   float64 `json:"balance"`
	TxCount   int     `json:"tx_count"`
	AgeDays   int     `json:"age_days"`
	Diversity float64 `json:"diversity"`
}

type relationEdge struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Value     float64 `json:"value"`
	Frequency int     `json:"frequency"`
	Recency   int64   `json:"recency"` // unix seconds
}

type relationResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		Nodes []relationNode `json:"nodes"`
		Edges []relationEdge `json:"edges"`
	} `json:"data"`
}

// AnalyzeRelations requests a model-annotated relation graph.
func (c *HTTPModelClient) AnalyzeRelations(ctx context.Context, center risk.Target, depth int, minEdgeWeight float64) (*Graph, error) {
	body, err := json.Marshal(relationRequest{
		Reference:     center.Reference,
		Kind:          string(center.Kind),
		Depth:         depth,
		MinEdgeWeight: minEdgeWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/model/analyze_relations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		return nil, fmt.Errorf("model API error (%d): %s", resp.StatusCode, respBody)
	}

	var rr relationResponse
	if err := json.Unmarshal(respBody, &rr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rr.Error != "" {
		return nil, fmt.Errorf("model error: %s", rr.Error)
	}

	g := &Graph{
		Center:     center,
		Depth:      depth,
		Method:     risk.MethodAIEnhanced,
		AnalyzedAt: time.Now(),
	}
	for _, n := range rr.Data.Nodes {
		g.Nodes = append(g.Nodes, Node{
			Address: n.Address,
			Hop:     n.Hop,
			Features: &NodeFeatures{
				Balance:   n.Balance,
				TxCount:   n.TxCount,
				AgeDays:   n.AgeDays,
				Diversity: n.Diversity,
			},
		})
	}
	for _, e := range rr.Data.Edges {
		if e.Value < minEdgeWeight {
			continue
		}
		g.Edges = append(g.Edges, Edge{
			From:      e.From,
			To:        e.To,
			Value:     e.Value,
			Frequency: e.Frequency,
			Recency:   time.Unix(e.Recency, 0),
		})
	}
	return g, nil
}
