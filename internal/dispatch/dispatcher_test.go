package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethersentinel/sentinel/internal/cache"
	"github.com/ethersentinel/sentinel/internal/risk"
)

const (
	testAddr   = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	testTxHash = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
)

// fakeBackend is a scriptable Backend for dispatcher tests.
type fakeBackend struct {
	method risk.Method
	score  float64
	err    error
	delay  time.Duration

	calls     atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func (f *fakeBackend) Evaluate(ctx context.Context, target risk.Target, opts risk.EvaluationOptions) (*risk.Verdict, error) {
	f.calls.Add(1)

	cur := f.inFlight.Add(1)
	for {
		peak := f.maxFlight.Load()
		if cur <= peak || f.maxFlight.CompareAndSwap(peak, cur) {
			break
		}
	}
	defer f.inFlight.Add(-1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &risk.Verdict{
		Target:         target,
		Score:          f.score,
		Level:          risk.LevelFromScore(f.score),
		Method:         f.method,
		ModelAvailable: f.method == risk.MethodAIEnhanced,
		EvaluatedAt:    time.Now(),
	}, nil
}

func addrTarget(t *testing.T) risk.Target {
	t.Helper()
	target, err := risk.NewTarget(risk.KindAddress, testAddr)
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	return target
}

func TestEvaluateModelSuccess(t *testing.T) {
	model := &fakeBackend{method: risk.MethodAIEnhanced, score: 0.9}
	rules := &fakeBackend{method: risk.MethodRuleBased, score: 0.2}
	vc := cache.New(cache.DefaultCapacity)
	d := New(model, rules, nil, vc, nil)

	v, err := d.Evaluate(context.Background(), addrTarget(t), risk.DefaultOptions())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Method != risk.MethodAIEnhanced {
		t.Errorf("method = %q, want ai_enhanced", v.Method)
	}
	if rules.calls.Load() != 0 {
		t.Error("rule engine called despite model success")
	}
	if !strings.HasPrefix(v.ID, "vrd_") {
		t.Errorf("verdict id %q missing vrd_ prefix", v.ID)
	}
	if vc.Size() != 1 {
		t.Errorf("cache size = %d, want 1", vc.Size())
	}
}

func TestEvaluateFallsBackToRules(t *testing.T) {
	model := &fakeBackend{err: errors.New("model down")}
	rules := &fakeBackend{method: risk.MethodRuleBased, score: 0.3}
	d := New(model, rules, nil, cache.New(cache.DefaultCapacity), nil)

	v, err := d.Evaluate(context.Background(), addrTarget(t), risk.DefaultOptions())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Method != risk.MethodRuleBased {
		t.Errorf("method = %q, want rule_based", v.Method)
	}
	if v.ModelAvailable {
		t.Error("ModelAvailable = true on fallback verdict")
	}
	if model.calls.Load() != 1 || rules.calls.Load() != 1 {
		t.Errorf("calls model=%d rules=%d, want 1 and 1", model.calls.Load(), rules.calls.Load())
	}
}

func TestEvaluateUseModelFalseSkipsModel(t *testing.T) {
	model := &fakeBackend{method: risk.MethodAIEnhanced, score: 0.9}
	rules := &fakeBackend{method: risk.MethodRuleBased, score: 0.3}
	d := New(model, rules, nil, cache.New(cache.DefaultCapacity), nil)

	opts := risk.DefaultOptions()
	opts.UseModel = false

	v, err := d.Evaluate(context.Background(), addrTarget(t), opts)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Method != risk.MethodRuleBased {
		t.Errorf("method = %q, want rule_based", v.Method)
	}
	if model.calls.Load() != 0 {
		t.Error("model called despite UseModel=false")
	}
}

func TestEvaluateBothPathsFailed(t *testing.T) {
	modelErr := errors.New("model down")
	ruleErr := errors.New("history store down")
	model := &fakeBackend{err: modelErr}
	rules := &fakeBackend{err: ruleErr}
	vc := cache.New(cache.DefaultCapacity)
	d := New(model, rules, nil, vc, nil)

	_, err := d.Evaluate(context.Background(), addrTarget(t), risk.DefaultOptions())
	if err == nil {
		t.Fatal("expected error when both paths fail")
	}
	if !risk.IsKind(err, risk.ErrorBothPathsFailed) {
		t.Errorf("error kind = %v, want both_paths_failed", err)
	}
	if !errors.Is(err, modelErr) || !errors.Is(err, ruleErr) {
		t.Error("both causes must be reachable via errors.Is")
	}
	if vc.Size() != 0 {
		t.Error("cache mutated on total failure")
	}
}

func TestEvaluateInvalidTarget(t *testing.T) {
	model := &fakeBackend{method: risk.MethodAIEnhanced, score: 0.9}
	d := New(model, &fakeBackend{method: risk.MethodRuleBased}, nil, nil, nil)

	_, err := d.Evaluate(context.Background(), risk.Target{Kind: risk.KindAddress, Reference: "nope"}, risk.DefaultOptions())
	if !risk.IsKind(err, risk.ErrorInvalidTarget) {
		t.Fatalf("error = %v, want invalid_target", err)
	}
	if model.calls.Load() != 0 {
		t.Error("backend invoked for invalid target")
	}
}

func TestEvaluateNilModelUsesRules(t *testing.T) {
	rules := &fakeBackend{method: risk.MethodRuleBased, score: 0.1}
	d := New(nil, rules, nil, cache.New(cache.DefaultCapacity), nil)

	v, err := d.Evaluate(context.Background(), addrTarget(t), risk.DefaultOptions())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Method != risk.MethodRuleBased {
		t.Errorf("method = %q, want rule_based", v.Method)
	}
}
