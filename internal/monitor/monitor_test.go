package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethersentinel/sentinel/internal/risk"
)

const testAddr = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

// fixedEvaluator always returns the configured score or error.
type fixedEvaluator struct {
	score float64
	err   error
}

func (f *fixedEvaluator) Evaluate(ctx context.Context, target risk.Target, opts risk.EvaluationOptions) (*risk.Verdict, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &risk.Verdict{
		ID:          "vrd_test",
		Target:      target,
		Score:       f.score,
		Level:       risk.LevelFromScore(f.score),
		Method:      risk.MethodRuleBased,
		EvaluatedAt: time.Now(),
	}, nil
}

// tokenEvaluator succeeds once per token, then reports both paths down.
// Pins the number of successful ticks without wall-clock sleeps.
type tokenEvaluator struct {
	score  float64
	tokens chan struct{}
}

func (e *tokenEvaluator) Evaluate(ctx context.Context, target risk.Target, opts risk.EvaluationOptions) (*risk.Verdict, error) {
	select {
	case <-e.tokens:
	default:
		return nil, risk.BothPathsFailedError(errors.New("model down"), errors.New("rules down"))
	}
	return &risk.Verdict{
		ID:          "vrd_test",
		Target:      target,
		Score:       e.score,
		Level:       risk.LevelFromScore(e.score),
		Method:      risk.MethodRuleBased,
		EvaluatedAt: time.Now(),
	}, nil
}

// collectChannel records delivered events.
type collectChannel struct {
	mu     sync.Mutex
	events []AlertEvent
	err    error
}

func (c *collectChannel) Name() string { return "collect" }

func (c *collectChannel) Deliver(_ context.Context, event AlertEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

func (c *collectChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func addrTarget(t *testing.T) risk.Target {
	t.Helper()
	target, err := risk.NewTarget(risk.KindAddress, testAddr)
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	return target
}

func TestSubscribeValidation(t *testing.T) {
	m := New(&fixedEvaluator{score: 0.1}, risk.DefaultOptions(), nil)
	defer m.Shutdown()

	_, err := m.Subscribe(nil, time.Second, 0.7, nil)
	if !risk.IsKind(err, risk.ErrorInvalidSubscription) {
		t.Errorf("empty watched set: err = %v, want invalid_subscription", err)
	}
	_, err = m.Subscribe([]risk.Target{addrTarget(t)}, 0, 0.7, nil)
	if !risk.IsKind(err, risk.ErrorInvalidSubscription) {
		t.Errorf("zero interval: err = %v, want invalid_subscription", err)
	}
	_, err = m.Subscribe([]risk.Target{{Kind: risk.KindAddress, Reference: "bad"}}, time.Second, 0.7, nil)
	if !risk.IsKind(err, risk.ErrorInvalidTarget) {
		t.Errorf("malformed target: err = %v, want invalid_target", err)
	}
}

func TestAlertPerTickWithoutDebounce(t *testing.T) {
	ch := &collectChannel{}
	// Exactly two ticks may evaluate successfully; later ticks fail and
	// suppress their alert, so the count below cannot overshoot.
	eval := &tokenEvaluator{score: 0.9, tokens: make(chan struct{}, 2)}
	eval.tokens <- struct{}{}
	eval.tokens <- struct{}{}

	m := New(eval, risk.DefaultOptions(), nil)
	defer m.Shutdown()

	id, err := m.Subscribe([]risk.Target{addrTarget(t)}, 5*time.Millisecond, 0.7, []NotificationChannel{ch})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// The second alert proves the same unchanged score re-alerts on the
	// next tick instead of being debounced.
	deadline := time.Now().Add(2 * time.Second)
	for ch.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("alerts = %d, want 2", ch.count())
		}
		time.Sleep(time.Millisecond)
	}
	if err := m.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	if got := ch.count(); got != 2 {
		t.Errorf("alerts = %d, want exactly 2 (one per successful tick)", got)
	}
	for _, event := range ch.events {
		if event.SubscriptionID != id {
			t.Errorf("alert subscription id = %q, want %q", event.SubscriptionID, id)
		}
		if event.Verdict.Score != 0.9 {
			t.Errorf("alert score = %v, want 0.9", event.Verdict.Score)
		}
	}
}

func TestNoAlertBelowThreshold(t *testing.T) {
	ch := &collectChannel{}
	m := New(&fixedEvaluator{score: 0.5}, risk.DefaultOptions(), nil)
	defer m.Shutdown()

	_, err := m.Subscribe([]risk.Target{addrTarget(t)}, 30*time.Millisecond, 0.7, []NotificationChannel{ch})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := ch.count(); got != 0 {
		t.Errorf("alerts = %d for score below threshold, want 0", got)
	}
}

func TestEvaluationFailureSuppressesAlert(t *testing.T) {
	ch := &collectChannel{}
	eval := &fixedEvaluator{err: risk.BothPathsFailedError(errors.New("model down"), errors.New("rules down"))}
	m := New(eval, risk.DefaultOptions(), nil)
	defer m.Shutdown()

	id, err := m.Subscribe([]risk.Target{addrTarget(t)}, 30*time.Millisecond, 0.0, []NotificationChannel{ch})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := ch.count(); got != 0 {
		t.Errorf("alerts = %d despite evaluation failure, want 0", got)
	}

	// The subscription must survive the failures.
	sub, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub.State != StateActive {
		t.Errorf("state = %q, want active", sub.State)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	m := New(&fixedEvaluator{score: 0.1}, risk.DefaultOptions(), nil)
	defer m.Shutdown()

	id, err := m.Subscribe([]risk.Target{addrTarget(t)}, time.Hour, 0.7, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := m.Unsubscribe(id); err != nil {
		t.Errorf("first Unsubscribe: %v", err)
	}
	if err := m.Unsubscribe(id); err != nil {
		t.Errorf("second Unsubscribe: %v", err)
	}
	if err := m.Unsubscribe("sub_never_existed"); err != nil {
		t.Errorf("Unsubscribe unknown id: %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	ch := &collectChannel{}
	m := New(&fixedEvaluator{score: 0.9}, risk.DefaultOptions(), nil)
	defer m.Shutdown()

	id, err := m.Subscribe([]risk.Target{addrTarget(t)}, 25*time.Millisecond, 0.7, []NotificationChannel{ch})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := m.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if got := ch.count(); got != 0 {
		t.Errorf("alerts while paused = %d, want 0", got)
	}

	if err := m.Resume(id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if ch.count() == 0 {
		t.Error("no alerts after resume")
	}

	if err := m.Pause("sub_unknown"); !risk.IsKind(err, risk.ErrorSubscriptionNotFound) {
		t.Errorf("Pause unknown = %v, want subscription_not_found", err)
	}
	if err := m.Resume("sub_unknown"); !risk.IsKind(err, risk.ErrorSubscriptionNotFound) {
		t.Errorf("Resume unknown = %v, want subscription_not_found", err)
	}
}

func TestChannelFailureDoesNotBlockOthers(t *testing.T) {
	failing := &collectChannel{err: errors.New("sink down")}
	working := &collectChannel{}
	m := New(&fixedEvaluator{score: 0.9}, risk.DefaultOptions(), nil)
	defer m.Shutdown()

	_, err := m.Subscribe([]risk.Target{addrTarget(t)}, 30*time.Millisecond, 0.7,
		[]NotificationChannel{failing, working})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if working.count() == 0 {
		t.Error("working channel starved by failing sibling")
	}
}

func TestWebhookChannelSignsPayload(t *testing.T) {
	var gotSig, gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Sentinel-Signature")
		gotEvent = r.Header.Get("X-Sentinel-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, "topsecret")
	event := AlertEvent{
		ID:             "alrt_test",
		SubscriptionID: "sub_test",
		Target:         addrTarget(t),
		Verdict:        &risk.Verdict{Score: 0.9, Level: risk.LevelCritical},
		FiredAt:        time.Now(),
	}
	if err := ch.Deliver(context.Background(), event); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotSig == "" {
		t.Error("missing HMAC signature header")
	}
	if gotEvent != "risk.alert" {
		t.Errorf("event header = %q, want risk.alert", gotEvent)
	}
}

func TestWebhookChannelReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, "")
	err := ch.Deliver(context.Background(), AlertEvent{Target: addrTarget(t), Verdict: &risk.Verdict{}})
	if err == nil {
		t.Error("expected error for 502 response")
	}
}
