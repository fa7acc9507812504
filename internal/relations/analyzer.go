package relations

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethersentinel/sentinel/internal/risk"
	"github.com/ethersentinel/sentinel/internal/rules"
)

// ModelClient is the graph inference backend.
type ModelClient interface {
	AnalyzeRelations(ctx context.Context, center risk.Target, depth int, minEdgeWeight float64) (*Graph, error)
}

// Analyzer produces relation graphs with model-to-BFS fallback.
type Analyzer struct {
	model   ModelClient
	history rules.HistoryProvider
	log     *slog.Logger
}

// NewAnalyzer creates an Analyzer. model may be nil (fallback only);
// history may be nil, in which case fallback graphs hold only the center.
func NewAnalyzer(model ModelClient, history rules.HistoryProvider, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{model: model, history: history, log: log}
}

// Analyze builds the relation graph around center, up to depth hops,
// dropping edges whose total value is below minEdgeWeight.
func (a *Analyzer) Analyze(ctx context.Context, center risk.Target, depth int, minEdgeWeight float64) (*Graph, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if depth < 1 || depth > MaxDepth {
		return nil, risk.InvalidDepthError(depth, MaxDepth)
	}
	if minEdgeWeight < 0 {
		minEdgeWeight = 0
	}

	if a.model != nil {
		g, err := a.model.AnalyzeRelations(ctx, center, depth, minEdgeWeight)
		if err == nil {
			return g, nil
		}
		a.log.Warn("graph inference failed, falling back to history traversal",
			"center", center.String(),
			"error", err)
	}

	return a.traverse(ctx, center, depth, minEdgeWeight)
}

// traverse is the deterministic breadth-first fallback. It carries no
// model features and is tagged rule_based at the graph level.
func (a *Analyzer) traverse(ctx context.Context, center risk.Target, depth int, minEdgeWeight float64) (*Graph, error) {
	g := &Graph{
		Center:     center,
		Depth:      depth,
		Method:     risk.MethodRuleBased,
		AnalyzedAt: time.Now(),
	}
	g.Nodes = append(g.Nodes, Node{Address: center.Reference, Hop: 0})

	// Only address centers have a traversable neighborhood.
	if a.history == nil || center.Kind != risk.KindAddress {
		return g, nil
	}

	type edgeKey struct{ from, to string }
	edges := make(map[edgeKey]*Edge)
	seen := map[string]bool{center.Reference: true}
	expanded := make(map[string]bool)
	frontier := []string{center.Reference}

	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var next []string
		for _, addr := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, risk.TimeoutError("relation traversal", err)
			}

			target, err := risk.NewTarget(risk.KindAddress, addr)
			if err != nil {
				continue
			}
			transfers, err := a.history.History(ctx, target, 0)
			if err != nil {
				a.log.Warn("history lookup failed during traversal", "address", addr, "error", err)
				continue
			}
			expanded[addr] = true

			for _, tr := range transfers {
				// Transfers touching an already-expanded peer were
				// aggregated when that peer was expanded.
				other := tr.To
				if tr.To == addr {
					other = tr.From
				}
				if other != addr && expanded[other] {
					continue
				}

				key := edgeKey{tr.From, tr.To}
				e, ok := edges[key]
				if !ok {
					e = &Edge{From: tr.From, To: tr.To}
					edges[key] = e
				}
				e.Value += tr.Value
				e.Frequency++
				if tr.Timestamp.After(e.Recency) {
					e.Recency = tr.Timestamp
				}

				for _, peer := range []string{tr.From, tr.To} {
					if !seen[peer] {
						seen[peer] = true
						g.Nodes = append(g.Nodes, Node{Address: peer, Hop: hop})
						next = append(next, peer)
					}
				}
			}
		}
		frontier = next
	}

	for _, e := range edges {
		if e.Value < minEdgeWeight {
			continue
		}
		g.Edges = append(g.Edges, *e)
	}
	return g, nil
}
