package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *SentinelClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *SentinelClient) *Handlers {
	return &Handlers{client: client}
}

// HandleEvaluateAddress scores a single address.
func (h *Handlers) HandleEvaluateAddress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	detailed := req.GetBool("detailed", false)

	raw, err := h.client.Evaluate(ctx, "address", address, detailed)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Evaluation failed: %v", err)), nil
	}

	text, err := formatVerdict(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse verdict: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleEvaluateTransaction scores a single transaction hash.
func (h *Handlers) HandleEvaluateTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	txHash := req.GetString("tx_hash", "")
	if txHash == "" {
		return mcp.NewToolResultError("tx_hash is required"), nil
	}
	detailed := req.GetBool("detailed", false)

	raw, err := h.client.Evaluate(ctx, "transaction", txHash, detailed)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Evaluation failed: %v", err)), nil
	}

	text, err := formatVerdict(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse verdict: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleAnalyzeRelations builds the relation graph around a target.
func (h *Handlers) HandleAnalyzeRelations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reference := req.GetString("reference", "")
	if reference == "" {
		return mcp.NewToolResultError("reference is required"), nil
	}
	kind := req.GetString("kind", "address")
	depth := req.GetInt("depth", 0)

	raw, err := h.client.AnalyzeRelations(ctx, kind, reference, depth)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Relation analysis failed: %v", err)), nil
	}

	text, err := formatGraph(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse graph: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleRecentVerdicts lists the latest cached verdicts.
func (h *Handlers) HandleRecentVerdicts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.RecentVerdicts(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch verdicts: %v", err)), nil
	}

	text, err := formatVerdictList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse verdicts: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleWatchAddresses creates a monitoring subscription.
func (h *Handlers) HandleWatchAddresses(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawAddrs := req.GetString("addresses", "")
	if rawAddrs == "" {
		return mcp.NewToolResultError("addresses is required"), nil
	}
	var addresses []string
	for _, a := range strings.Split(rawAddrs, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	if len(addresses) == 0 {
		return mcp.NewToolResultError("addresses must contain at least one address"), nil
	}

	interval := req.GetInt("interval_seconds", 300)
	threshold := req.GetFloat("risk_threshold", 0.75)

	raw, err := h.client.Subscribe(ctx, addresses, interval, threshold)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create watch: %v", err)), nil
	}

	var sub map[string]any
	if err := json.Unmarshal(raw, &sub); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse subscription: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Watching %d address(es).\n", len(addresses))
	fmt.Fprintf(&sb, "Subscription ID: %s\n", getString(sub, "id"))
	fmt.Fprintf(&sb, "Check interval: %ds\n", interval)
	fmt.Fprintf(&sb, "Alert threshold: %.2f\n", threshold)
	sb.WriteString("\nAlerts fire each check while the score stays at or above the threshold.")
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListWatches lists active monitoring subscriptions.
func (h *Handlers) HandleListWatches(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListSubscriptions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list watches: %v", err)), nil
	}

	text, err := formatSubscriptionList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse subscriptions: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- formatters ---

func formatVerdict(raw json.RawMessage) (string, error) {
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Risk Verdict:\n")
	writeVerdictLines(&sb, "  ", v)
	return sb.String(), nil
}

func writeVerdictLines(sb *strings.Builder, indent string, v map[string]any) {
	if target, ok := v["target"].(map[string]any); ok {
		fmt.Fprintf(sb, "%sTarget: %s (%s)\n", indent, getString(target, "reference"), getString(target, "kind"))
	}
	if score, ok := getFloat(v, "score"); ok {
		fmt.Fprintf(sb, "%sScore: %.3f\n", indent, score)
	}
	fmt.Fprintf(sb, "%sLevel: %s\n", indent, getString(v, "level"))

	method := getString(v, "method")
	if v["modelAvailable"] == false && method == "rule_based" {
		method += " (model unavailable, rule engine fallback)"
	}
	fmt.Fprintf(sb, "%sMethod: %s\n", indent, method)

	if expl, ok := v["explanation"].(map[string]any); ok {
		if rt := getString(expl, "riskType"); rt != "" {
			fmt.Fprintf(sb, "%sRisk type: %s\n", indent, rt)
		}
		if summary := getString(expl, "summary"); summary != "" {
			fmt.Fprintf(sb, "%sSummary: %s\n", indent, summary)
		}
		if expl["lowConfidence"] == true {
			fmt.Fprintf(sb, "%sNote: low-confidence model score\n", indent)
		}
		if factors, ok := expl["factors"].(map[string]any); ok && len(factors) > 0 {
			fmt.Fprintf(sb, "%sFactors:\n", indent)
			for name, val := range factors {
				if f, ok := val.(float64); ok {
					fmt.Fprintf(sb, "%s  %s: %.3f\n", indent, name, f)
				}
			}
		}
	}
}

func formatVerdictList(raw json.RawMessage) (string, error) {
	var resp struct {
		Verdicts []map[string]any `json:"verdicts"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Verdicts) == 0 {
		return "No verdicts yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent verdicts (%d, newest first):\n\n", len(resp.Verdicts))
	for i, v := range resp.Verdicts {
		target := ""
		if t, ok := v["target"].(map[string]any); ok {
			target = getString(t, "reference")
		}
		score, _ := getFloat(v, "score")
		fmt.Fprintf(&sb, "%d. %s  score=%.3f  level=%s  method=%s\n",
			i+1, target, score, getString(v, "level"), getString(v, "method"))
	}
	return sb.String(), nil
}

func formatGraph(raw json.RawMessage) (string, error) {
	var g struct {
		Center map[string]any   `json:"center"`
		Depth  int              `json:"depth"`
		Method string           `json:"method"`
		Nodes  []map[string]any `json:"nodes"`
		Edges  []map[string]any `json:"edges"`
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Relation graph for %s (depth %d, %s):\n",
		getString(g.Center, "reference"), g.Depth, g.Method)
	fmt.Fprintf(&sb, "  %d node(s), %d edge(s)\n", len(g.Nodes), len(g.Edges))

	if len(g.Edges) == 0 {
		sb.WriteString("\nNo transfer relations found within the window.")
		return sb.String(), nil
	}

	sb.WriteString("\nEdges:\n")
	for _, e := range g.Edges {
		value, _ := getFloat(e, "value")
		freq, _ := getFloat(e, "frequency")
		fmt.Fprintf(&sb, "  %s -> %s  value=%.4f  transfers=%.0f\n",
			getString(e, "from"), getString(e, "to"), value, freq)
	}
	return sb.String(), nil
}

func formatSubscriptionList(raw json.RawMessage) (string, error) {
	var resp struct {
		Subscriptions []map[string]any `json:"subscriptions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Subscriptions) == 0 {
		return "No active watches.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Active watches (%d):\n\n", len(resp.Subscriptions))
	for i, sub := range resp.Subscriptions {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, getString(sub, "id"), getString(sub, "state"))
		if watched, ok := sub["watched"].([]any); ok {
			for _, w := range watched {
				if t, ok := w.(map[string]any); ok {
					fmt.Fprintf(&sb, "   - %s\n", getString(t, "reference"))
				}
			}
		}
		if threshold, ok := getFloat(sub, "riskThreshold"); ok {
			fmt.Fprintf(&sb, "   threshold=%.2f", threshold)
		}
		if interval, ok := getFloat(sub, "intervalSeconds"); ok {
			fmt.Fprintf(&sb, " interval=%.0fs", interval)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
