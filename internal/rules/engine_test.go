package rules

import (
	"context"
	"testing"
	"time"

	"github.com/ethersentinel/sentinel/internal/risk"
)

const (
	testAddr    = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	flaggedAddr = "0x1111111111111111111111111111111111111111"
	cleanAddr   = "0x2222222222222222222222222222222222222222"
)

func addrTarget(t *testing.T) risk.Target {
	t.Helper()
	target, err := risk.NewTarget(risk.KindAddress, testAddr)
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	return target
}

func TestEvaluateDeterministic(t *testing.T) {
	c := NewClient(nil)
	target := addrTarget(t)

	v1, err := c.Evaluate(context.Background(), target, risk.DefaultOptions())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	v2, err := c.Evaluate(context.Background(), target, risk.DefaultOptions())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if v1.Score != v2.Score {
		t.Errorf("scores differ across runs: %v vs %v", v1.Score, v2.Score)
	}
	if v1.Method != risk.MethodRuleBased {
		t.Errorf("method = %q, want %q", v1.Method, risk.MethodRuleBased)
	}
	if v1.ModelAvailable {
		t.Error("ModelAvailable = true for rule verdict")
	}
	if v1.Score < 0 || v1.Score > 1 {
		t.Errorf("score out of range: %v", v1.Score)
	}
}

func TestEvaluateNoHistoryUsesBaseline(t *testing.T) {
	c := NewClient(NewMemoryHistory())
	target := addrTarget(t)

	v, err := c.Evaluate(context.Background(), target, risk.DefaultOptions())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Explanation == nil {
		t.Fatal("expected explanation on baseline verdict")
	}
	if _, ok := v.Explanation.Factors["baseline"]; !ok {
		t.Errorf("expected baseline factor, got %v", v.Explanation.Factors)
	}
}

func TestFlaggedExposureRaisesScore(t *testing.T) {
	now := time.Now()
	target := addrTarget(t)

	clean := NewMemoryHistory()
	dirty := NewMemoryHistory()
	dirty.Flag(flaggedAddr)

	// Same transfer set, but for dirty one counterparty is flagged.
	for _, h := range []*MemoryHistory{clean, dirty} {
		h.Add(
			Transfer{From: testAddr, To: flaggedAddr, Value: 90, Timestamp: now.Add(-1 * time.Hour)},
			Transfer{From: testAddr, To: cleanAddr, Value: 5, Timestamp: now.Add(-20 * time.Hour)},
			Transfer{From: cleanAddr, To: testAddr, Value: 5, Timestamp: now.Add(-40 * time.Hour)},
		)
	}

	opts := risk.DefaultOptions()
	opts.Detailed = true

	vClean, err := NewClient(clean).Evaluate(context.Background(), target, opts)
	if err != nil {
		t.Fatalf("Evaluate clean: %v", err)
	}
	vDirty, err := NewClient(dirty).Evaluate(context.Background(), target, opts)
	if err != nil {
		t.Fatalf("Evaluate dirty: %v", err)
	}

	if vDirty.Score <= vClean.Score {
		t.Errorf("flagged exposure did not raise score: clean=%v dirty=%v", vClean.Score, vDirty.Score)
	}
	if vDirty.Explanation.Factors["flagged"] <= 0 {
		t.Errorf("flagged factor = %v, want > 0", vDirty.Explanation.Factors["flagged"])
	}
}

func TestBurstFactor(t *testing.T) {
	// Whole-hour base so every timestamp lands in a known bucket.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewClient(nil)

	// One transfer per hour across the full 1 day window: as even as the
	// window allows.
	spread := make([]Transfer, 24)
	for i := range spread {
		spread[i] = Transfer{Timestamp: base.Add(time.Duration(i) * time.Hour)}
	}
	if got := c.burstFactor(spread, 1); got != 0.0 {
		t.Errorf("uniform spread burst = %v, want 0", got)
	}

	// Every transfer inside one hour bucket: maximal burst.
	packed := make([]Transfer, 10)
	for i := range packed {
		packed[i] = Transfer{Timestamp: base.Add(time.Duration(i) * time.Minute)}
	}
	if got := c.burstFactor(packed, 30); got <= 0.9 {
		t.Errorf("single-bucket burst = %v, want > 0.9", got)
	}

	// Split evenly over two adjacent buckets: still bursty against a
	// 30 day window.
	split := make([]Transfer, 10)
	for i := range split {
		split[i] = Transfer{Timestamp: base.Add(time.Duration(i%2) * time.Hour)}
	}
	if got := c.burstFactor(split, 30); got <= 0.4 {
		t.Errorf("two-bucket burst = %v, want > 0.4", got)
	}
}

func TestNoveltyFactor(t *testing.T) {
	target := addrTarget(t)
	c := NewClient(nil)

	repeat := []Transfer{
		{From: testAddr, To: cleanAddr},
		{From: testAddr, To: cleanAddr},
		{From: testAddr, To: cleanAddr},
	}
	if got := c.noveltyFactor(target, repeat); got != 0.0 {
		t.Errorf("repeat counterparty novelty = %v, want 0", got)
	}

	oneShot := []Transfer{
		{From: testAddr, To: "0x3333333333333333333333333333333333333333"},
		{From: testAddr, To: "0x4444444444444444444444444444444444444444"},
	}
	if got := c.noveltyFactor(target, oneShot); got != 1.0 {
		t.Errorf("one-shot novelty = %v, want 1", got)
	}
}

func TestConcentrationFactor(t *testing.T) {
	target := addrTarget(t)
	c := NewClient(nil)

	balanced := []Transfer{
		{From: testAddr, To: cleanAddr, Value: 50},
		{From: testAddr, To: "0x3333333333333333333333333333333333333333", Value: 50},
	}
	if got := c.concentrationFactor(target, balanced); got != 0.0 {
		t.Errorf("balanced concentration = %v, want 0", got)
	}

	lopsided := []Transfer{
		{From: testAddr, To: cleanAddr, Value: 99},
		{From: testAddr, To: "0x3333333333333333333333333333333333333333", Value: 1},
	}
	if got := c.concentrationFactor(target, lopsided); got <= 0.5 {
		t.Errorf("lopsided concentration = %v, want > 0.5", got)
	}
}

func TestScoreLevelAgreement(t *testing.T) {
	h := NewMemoryHistory()
	h.Flag(flaggedAddr)
	now := time.Now()
	for i := 0; i < 20; i++ {
		h.Add(Transfer{From: testAddr, To: flaggedAddr, Value: 100, Timestamp: now.Add(-time.Duration(i) * time.Minute)})
	}

	v, err := NewClient(h).Evaluate(context.Background(), addrTarget(t), risk.DefaultOptions())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Level != risk.LevelFromScore(v.Score) {
		t.Errorf("level %q does not match score %v", v.Level, v.Score)
	}
	if v.Level == risk.LevelLow {
		t.Errorf("all-flagged burst traffic scored %v (%s), want elevated", v.Score, v.Level)
	}
}

func TestEvaluateCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(NewMemoryHistory()).Evaluate(ctx, addrTarget(t), risk.DefaultOptions())
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if !risk.IsKind(err, risk.ErrorTimeout) {
		t.Errorf("error kind = %v, want timeout", err)
	}
}
