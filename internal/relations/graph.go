// Package relations builds multi-hop relation graphs around a target.
//
// The analyzer mirrors the dispatcher's two-path design: a graph
// inference backend annotates nodes and edges with model-derived
// features, and a deterministic breadth-first traversal over raw
// transaction history serves as the fallback. Graphs are tagged with
// the method that produced them, same as verdicts.
package relations

import (
	"time"

	"github.com/ethersentinel/sentinel/internal/risk"
)

// MaxDepth bounds traversal cost. Requests beyond it are rejected, not
// clamped silently.
const MaxDepth = 5

// NodeFeatures are model-derived annotations. Absent on fallback graphs.
type NodeFeatures struct {
	Balance   float64 `json:"balance"`
	TxCount   int     `json:"txCount"`
	AgeDays   int     `json:"ageDays"`
	Diversity float64 `json:"diversity"`
}

// Node is one account in the relation graph.
type Node struct {
	Address  string        `json:"address"`
	Hop      int           `json:"hop"` // 0 is the center
	Features *NodeFeatures `json:"features,omitempty"`
}

// Edge is an aggregated transfer relationship between two nodes.
type Edge struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Value     float64   `json:"value"`     // total transferred
	Frequency int       `json:"frequency"` // number of transfers
	Recency   time.Time `json:"recency"`   // most recent transfer
}

// Graph is the result of a relation analysis.
type Graph struct {
	Center     risk.Target `json:"center"`
	Depth      int         `json:"depth"`
	Nodes      []Node      `json:"nodes"`
	Edges      []Edge      `json:"edges"`
	Method     risk.Method `json:"method"`
	AnalyzedAt time.Time   `json:"analyzedAt"`
}
