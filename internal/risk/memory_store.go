package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	verdicts map[string][]*Verdict // target string → verdicts
}

// NewMemoryStore creates an in-memory verdict store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		verdicts: make(map[string][]*Verdict),
	}
}

func (s *MemoryStore) Record(ctx context.Context, v *Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[v.Target.String()] = append(s.verdicts[v.Target.String()], copyVerdict(v))
	return nil
}

func (s *MemoryStore) ListByTarget(ctx context.Context, target Target, limit int) ([]*Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.verdicts[target.String()]
	if len(all) == 0 {
		return nil, nil
	}

	// Most recent first, up to limit
	start := len(all) - limit
	if start < 0 {
		start = 0
	}

	result := make([]*Verdict, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		result = append(result, copyVerdict(all[i]))
	}
	return result, nil
}

// copyVerdict deep-copies a verdict so callers cannot mutate stored state.
func copyVerdict(v *Verdict) *Verdict {
	out := *v
	if v.Explanation != nil {
		exp := *v.Explanation
		if v.Explanation.Factors != nil {
			exp.Factors = make(map[string]float64, len(v.Explanation.Factors))
			for k, val := range v.Explanation.Factors {
				exp.Factors[k] = val
			}
		}
		if v.Explanation.PredictionScores != nil {
			exp.PredictionScores = make(map[string]float64, len(v.Explanation.PredictionScores))
			for k, val := range v.Explanation.PredictionScores {
				exp.PredictionScores[k] = val
			}
		}
		out.Explanation = &exp
	}
	return &out
}
