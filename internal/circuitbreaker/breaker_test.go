package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreaker_ClosedByDefault(t *testing.T) {
	b := New(3, time.Minute)
	if !b.Allow("model") {
		t.Error("unknown backend should be allowed")
	}
	if b.State("model") != StateClosed {
		t.Errorf("expected closed, got %s", b.State("model"))
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure("model")
	b.RecordFailure("model")
	if b.State("model") != StateClosed {
		t.Error("should still be closed below threshold")
	}

	b.RecordFailure("model")
	if b.State("model") != StateOpen {
		t.Error("should be open at threshold")
	}
	if b.Allow("model") {
		t.Error("open circuit should reject")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := New(1, 10*time.Millisecond)

	b.RecordFailure("model")
	if b.Allow("model") {
		t.Fatal("should reject while open")
	}

	time.Sleep(20 * time.Millisecond)

	// First call after openDuration is the probe.
	if !b.Allow("model") {
		t.Fatal("should allow one probe after open duration")
	}
	if b.State("model") != StateHalfOpen {
		t.Errorf("expected half_open, got %s", b.State("model"))
	}
	// Second concurrent call is rejected during the probe.
	if b.Allow("model") {
		t.Error("should reject while probing")
	}

	// Probe succeeds: circuit closes.
	b.RecordSuccess("model")
	if b.State("model") != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State("model"))
	}
	if !b.Allow("model") {
		t.Error("closed circuit should allow")
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)

	b.RecordFailure("model")
	time.Sleep(20 * time.Millisecond)
	if !b.Allow("model") {
		t.Fatal("should allow probe")
	}

	b.RecordFailure("model")
	if b.State("model") != StateOpen {
		t.Errorf("failed probe should reopen, got %s", b.State("model"))
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure("model")
	b.RecordFailure("model")
	b.RecordSuccess("model")
	b.RecordFailure("model")
	b.RecordFailure("model")

	if b.State("model") != StateClosed {
		t.Error("non-consecutive failures should not trip the circuit")
	}
}

func TestBreaker_IndependentBackends(t *testing.T) {
	b := New(1, time.Minute)

	b.RecordFailure("model")
	if b.Allow("model") {
		t.Error("model circuit should be open")
	}
	if !b.Allow("rules") {
		t.Error("rules circuit should be unaffected")
	}
}

func TestBreaker_DefaultsApplied(t *testing.T) {
	b := New(0, 0)
	if b.threshold != 5 {
		t.Errorf("default threshold = %d, want 5", b.threshold)
	}
	if b.openDuration != 30*time.Second {
		t.Errorf("default openDuration = %v, want 30s", b.openDuration)
	}
}
