package risk

import "fmt"

// Default evaluation options.
const (
	DefaultGraphDepth          = 3
	DefaultTimeWindowDays      = 30
	DefaultConfidenceThreshold = 0.7
)

// EvaluationOptions configures a single evaluation. Passed by value and
// never mutated after construction.
type EvaluationOptions struct {
	// UseModel controls whether the inference backend is tried at all.
	// When false, evaluation goes straight to the rule engine.
	UseModel bool `json:"useModel"`

	// Detailed requests a full explanation payload on the verdict.
	Detailed bool `json:"detailed"`

	// GraphDepth bounds relation traversal around the target.
	GraphDepth int `json:"graphDepth"`

	// TimeWindowDays bounds how far back transaction history is considered.
	TimeWindowDays int `json:"timeWindowDays"`

	// ConfidenceThreshold flags model scores below it as low-confidence.
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() EvaluationOptions {
	return EvaluationOptions{
		UseModel:            true,
		GraphDepth:          DefaultGraphDepth,
		TimeWindowDays:      DefaultTimeWindowDays,
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

// Validate rejects option values that no backend can honor.
func (o EvaluationOptions) Validate() error {
	if o.GraphDepth < 0 {
		return fmt.Errorf("graphDepth must be >= 0, got %d", o.GraphDepth)
	}
	if o.TimeWindowDays <= 0 {
		return fmt.Errorf("timeWindowDays must be > 0, got %d", o.TimeWindowDays)
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidenceThreshold must be in [0, 1], got %f", o.ConfidenceThreshold)
	}
	return nil
}
