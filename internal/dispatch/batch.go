package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethersentinel/sentinel/internal/metrics"
	"github.com/ethersentinel/sentinel/internal/risk"
)

const (
	// DefaultBatchConcurrency bounds simultaneous dispatcher invocations
	// during a batch.
	DefaultBatchConcurrency = 10

	// DefaultPerTargetTimeout bounds each batch target individually.
	DefaultPerTargetTimeout = 30 * time.Second
)

// TargetRequest is one raw batch input, validated per item so a
// malformed entry fails alone instead of rejecting the whole batch.
type TargetRequest struct {
	Kind      risk.Kind `json:"kind"`
	Reference string    `json:"reference"`
}

// BatchResult pairs one input occurrence with its outcome. Exactly one
// of Verdict and Err is set.
type BatchResult struct {
	Request TargetRequest `json:"request"`
	Verdict *risk.Verdict `json:"verdict,omitempty"`
	Err     error         `json:"-"`
}

// BatchReport aggregates a batch evaluation. Results holds one entry
// per input occurrence, in input order; duplicates are evaluated
// independently.
type BatchReport struct {
	Results     []BatchResult `json:"results"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
}

// Succeeded counts results carrying a verdict.
func (r *BatchReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts results carrying an error.
func (r *BatchReport) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// EvaluateBatch fans requests out to Evaluate with bounded concurrency.
//
// Each target gets its own timeout; a slow or failing target is
// recorded in its result slot and never cancels siblings. The report
// always holds one result per input, so callers see partial success
// rather than batch-wide failure.
func (d *Dispatcher) EvaluateBatch(ctx context.Context, reqs []TargetRequest, opts risk.EvaluationOptions) *BatchReport {
	report := &BatchReport{
		Results:   make([]BatchResult, len(reqs)),
		StartedAt: time.Now(),
	}
	metrics.BatchSize.Observe(float64(len(reqs)))

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req TargetRequest) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			report.Results[i] = BatchResult{Request: req}

			target, err := risk.NewTarget(req.Kind, req.Reference)
			if err != nil {
				report.Results[i].Err = err
				return
			}

			evalCtx, cancel := context.WithTimeout(ctx, d.perTargetTimeout)
			defer cancel()

			v, err := d.Evaluate(evalCtx, target, opts)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) && !risk.IsKind(err, risk.ErrorTimeout) {
					err = risk.TimeoutError("batch target evaluation", err)
				}
				report.Results[i].Err = err
				return
			}
			report.Results[i].Verdict = v
		}(i, req)
	}

	wg.Wait()
	report.CompletedAt = time.Now()
	return report
}
