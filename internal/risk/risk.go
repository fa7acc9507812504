// Package risk defines the core data model for risk evaluation.
//
// A Target (an account address or a transaction hash) is evaluated into a
// Verdict: a score in [0, 1], a coarse level, and the method that produced
// it. Verdicts come from either the model-based inference backend
// (AIEnhanced) or the deterministic rule engine (RuleBased) when the model
// is unavailable or disabled.
package risk

import (
	"context"
	"time"
)

// Method records which evaluation path produced a verdict.
type Method string

const (
	MethodAIEnhanced Method = "ai_enhanced"
	MethodRuleBased  Method = "rule_based"
)

// Level is the coarse risk classification derived from a score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
	LevelUnknown  Level = "unknown"
)

// Score boundaries for level classification.
const (
	mediumThreshold   = 0.25
	highThreshold     = 0.50
	criticalThreshold = 0.75
)

// LevelFromScore maps a risk score in [0, 1] to a Level.
// Out-of-range scores map to LevelUnknown.
func LevelFromScore(score float64) Level {
	switch {
	case score < 0 || score > 1:
		return LevelUnknown
	case score >= criticalThreshold:
		return LevelCritical
	case score >= highThreshold:
		return LevelHigh
	case score >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Explanation carries the structured payload behind a verdict.
// Model verdicts fill RiskType and PredictionScores; rule verdicts fill
// Factors. LowConfidence marks model scores below the confidence
// threshold; such verdicts are flagged, never rejected.
type Explanation struct {
	RiskType         string             `json:"riskType,omitempty"` // normal, phishing, scam
	Summary          string             `json:"summary,omitempty"`
	Factors          map[string]float64 `json:"factors,omitempty"`
	PredictionScores map[string]float64 `json:"predictionScores,omitempty"`
	LowConfidence    bool               `json:"lowConfidence,omitempty"`
}

// Verdict is the result of evaluating a single target.
type Verdict struct {
	ID             string       `json:"id"`
	Target         Target       `json:"target"`
	Score          float64      `json:"score"`
	Level          Level        `json:"level"`
	Method         Method       `json:"method"`
	ModelAvailable bool         `json:"modelAvailable"`
	Explanation    *Explanation `json:"explanation,omitempty"`
	EvaluatedAt    time.Time    `json:"evaluatedAt"`
}

// Store persists verdicts for the audit trail.
type Store interface {
	Record(ctx context.Context, v *Verdict) error
	ListByTarget(ctx context.Context, target Target, limit int) ([]*Verdict, error)
}
