package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethersentinel/sentinel/internal/cache"
	"github.com/ethersentinel/sentinel/internal/risk"
)

func addrRef(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

func TestEvaluateBatchAllSucceed(t *testing.T) {
	model := &fakeBackend{method: risk.MethodAIEnhanced, score: 0.5}
	d := New(model, &fakeBackend{method: risk.MethodRuleBased}, nil, cache.New(cache.DefaultCapacity), nil)

	reqs := make([]TargetRequest, 20)
	for i := range reqs {
		reqs[i] = TargetRequest{Kind: risk.KindAddress, Reference: addrRef(i)}
	}

	report := d.EvaluateBatch(context.Background(), reqs, risk.DefaultOptions())
	if len(report.Results) != len(reqs) {
		t.Fatalf("results = %d, want %d", len(report.Results), len(reqs))
	}
	if report.Succeeded() != 20 || report.Failed() != 0 {
		t.Errorf("succeeded=%d failed=%d, want 20/0", report.Succeeded(), report.Failed())
	}
	for i, res := range report.Results {
		if res.Verdict == nil {
			t.Fatalf("result %d missing verdict: %v", i, res.Err)
		}
		if res.Verdict.Target.Reference != reqs[i].Reference {
			t.Errorf("result %d out of input order: got %s want %s",
				i, res.Verdict.Target.Reference, reqs[i].Reference)
		}
	}
	if report.CompletedAt.Before(report.StartedAt) {
		t.Error("CompletedAt before StartedAt")
	}
}

func TestEvaluateBatchConcurrencyBound(t *testing.T) {
	model := &fakeBackend{method: risk.MethodAIEnhanced, score: 0.5, delay: 20 * time.Millisecond}
	d := New(model, &fakeBackend{method: risk.MethodRuleBased}, nil, cache.New(cache.DefaultCapacity), nil,
		WithBatchConcurrency(10))

	reqs := make([]TargetRequest, 100)
	for i := range reqs {
		reqs[i] = TargetRequest{Kind: risk.KindAddress, Reference: addrRef(i)}
	}

	report := d.EvaluateBatch(context.Background(), reqs, risk.DefaultOptions())
	if report.Failed() != 0 {
		t.Fatalf("failed = %d, want 0", report.Failed())
	}
	if peak := model.maxFlight.Load(); peak > 10 {
		t.Errorf("max in-flight evaluations = %d, want <= 10", peak)
	}
	if model.calls.Load() != 100 {
		t.Errorf("backend calls = %d, want 100", model.calls.Load())
	}
}

func TestEvaluateBatchMalformedTargetFailsAlone(t *testing.T) {
	model := &fakeBackend{method: risk.MethodAIEnhanced, score: 0.5}
	d := New(model, &fakeBackend{method: risk.MethodRuleBased}, nil, cache.New(cache.DefaultCapacity), nil)

	reqs := []TargetRequest{
		{Kind: risk.KindAddress, Reference: addrRef(0)},
		{Kind: risk.KindAddress, Reference: "not-an-address"},
		{Kind: risk.KindAddress, Reference: addrRef(2)},
	}

	report := d.EvaluateBatch(context.Background(), reqs, risk.DefaultOptions())
	if report.Succeeded() != 2 || report.Failed() != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 2/1", report.Succeeded(), report.Failed())
	}
	if !risk.IsKind(report.Results[1].Err, risk.ErrorInvalidTarget) {
		t.Errorf("result 1 err = %v, want invalid_target", report.Results[1].Err)
	}
	if report.Results[0].Verdict == nil || report.Results[2].Verdict == nil {
		t.Error("valid siblings affected by malformed target")
	}
}

func TestEvaluateBatchPerTargetTimeout(t *testing.T) {
	model := &fakeBackend{method: risk.MethodAIEnhanced, score: 0.5, delay: 200 * time.Millisecond}
	rules := &fakeBackend{method: risk.MethodRuleBased, score: 0.2, delay: 200 * time.Millisecond}
	d := New(model, rules, nil, cache.New(cache.DefaultCapacity), nil,
		WithPerTargetTimeout(20*time.Millisecond))

	reqs := []TargetRequest{{Kind: risk.KindAddress, Reference: addrRef(0)}}
	report := d.EvaluateBatch(context.Background(), reqs, risk.DefaultOptions())

	if report.Failed() != 1 {
		t.Fatalf("failed = %d, want 1", report.Failed())
	}
	err := report.Results[0].Err
	if !risk.IsKind(err, risk.ErrorTimeout) && !risk.IsKind(err, risk.ErrorBothPathsFailed) {
		t.Errorf("err = %v, want timeout or both_paths_failed", err)
	}
}

func TestEvaluateBatchDuplicatesEvaluatedIndependently(t *testing.T) {
	model := &fakeBackend{method: risk.MethodAIEnhanced, score: 0.5}
	d := New(model, &fakeBackend{method: risk.MethodRuleBased}, nil, cache.New(cache.DefaultCapacity), nil)

	ref := addrRef(0)
	reqs := []TargetRequest{
		{Kind: risk.KindAddress, Reference: ref},
		{Kind: risk.KindAddress, Reference: ref},
		{Kind: risk.KindAddress, Reference: ref},
	}

	report := d.EvaluateBatch(context.Background(), reqs, risk.DefaultOptions())
	if report.Succeeded() != 3 {
		t.Fatalf("succeeded = %d, want 3", report.Succeeded())
	}
	if model.calls.Load() != 3 {
		t.Errorf("backend calls = %d, want 3 (no de-duplication)", model.calls.Load())
	}
	if report.Results[0].Verdict.ID == report.Results[1].Verdict.ID {
		t.Error("duplicate occurrences share a verdict")
	}
}

func TestEvaluateBatchEmpty(t *testing.T) {
	d := New(nil, &fakeBackend{method: risk.MethodRuleBased}, nil, nil, nil)
	report := d.EvaluateBatch(context.Background(), nil, risk.DefaultOptions())
	if len(report.Results) != 0 {
		t.Errorf("results = %d, want 0", len(report.Results))
	}
}
