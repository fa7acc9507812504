// Package monitor re-evaluates watched targets on an interval and emits
// alerts when their risk crosses a subscription's threshold.
//
// Each subscription runs its own poll loop, independent of the others.
// Evaluations go through the dispatcher, so a tick inherits the same
// model-to-rules fallback as a direct evaluation. A repeated crossing
// alerts again on every tick; there is no debounce.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethersentinel/sentinel/internal/idgen"
	"github.com/ethersentinel/sentinel/internal/metrics"
	"github.com/ethersentinel/sentinel/internal/risk"
)

// State is the lifecycle state of a subscription.
type State string

const (
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateTerminated State = "terminated"
)

// AlertEvent is emitted when a watched target's score crosses the
// subscription threshold.
type AlertEvent struct {
	ID             string        `json:"id"`
	SubscriptionID string        `json:"subscriptionId"`
	Target         risk.Target   `json:"target"`
	Verdict        *risk.Verdict `json:"verdict"`
	FiredAt        time.Time     `json:"firedAt"`
}

// NotificationChannel delivers alert events. Delivery failures are
// per-channel: an error never stops delivery to the remaining channels.
type NotificationChannel interface {
	Name() string
	Deliver(ctx context.Context, event AlertEvent) error
}

// Evaluator produces verdicts for watched targets. Satisfied by the
// dispatcher.
type Evaluator interface {
	Evaluate(ctx context.Context, target risk.Target, opts risk.EvaluationOptions) (*risk.Verdict, error)
}

// Subscription is one watched set with its polling state.
type Subscription struct {
	ID            string                `json:"id"`
	Watched       []risk.Target         `json:"watched"`
	Interval      time.Duration         `json:"interval"`
	RiskThreshold float64               `json:"riskThreshold"`
	Channels      []NotificationChannel `json:"-"`
	State         State                 `json:"state"`
	CreatedAt     time.Time             `json:"createdAt"`
	LastCheckedAt map[string]time.Time  `json:"lastCheckedAt"` // keyed by target string

	stop chan struct{}
	done chan struct{}
}

// ChannelNames lists the subscription's delivery channels.
func (s *Subscription) ChannelNames() []string {
	names := make([]string, 0, len(s.Channels))
	for _, ch := range s.Channels {
		names = append(names, ch.Name())
	}
	return names
}

// Monitor owns all subscriptions and their poll loops.
type Monitor struct {
	evaluator Evaluator
	opts      risk.EvaluationOptions
	log       *slog.Logger

	// tickTimeout bounds one full tick over a subscription's watched set.
	tickTimeout time.Duration

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// New creates a Monitor evaluating with the given base options.
func New(evaluator Evaluator, opts risk.EvaluationOptions, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		evaluator:   evaluator,
		opts:        opts,
		log:         log,
		tickTimeout: 60 * time.Second,
		subs:        make(map[string]*Subscription),
	}
}

// Subscribe creates an active subscription and starts its poll loop.
func (m *Monitor) Subscribe(watched []risk.Target, interval time.Duration, riskThreshold float64, channels []NotificationChannel) (string, error) {
	if len(watched) == 0 {
		return "", risk.InvalidSubscriptionError("needs at least one watched target")
	}
	if interval <= 0 {
		return "", risk.InvalidSubscriptionError("interval must be positive")
	}
	for _, t := range watched {
		if err := t.Validate(); err != nil {
			return "", err
		}
	}

	sub := &Subscription{
		ID:            idgen.WithPrefix("sub"),
		Watched:       append([]risk.Target(nil), watched...),
		Interval:      interval,
		RiskThreshold: riskThreshold,
		Channels:      channels,
		State:         StateActive,
		CreatedAt:     time.Now(),
		LastCheckedAt: make(map[string]time.Time),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	m.mu.Lock()
	m.subs[sub.ID] = sub
	m.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	m.log.Info("subscription created",
		"subscription_id", sub.ID,
		"targets", len(sub.Watched),
		"interval", interval,
		"threshold", riskThreshold)

	go m.pollLoop(sub)
	return sub.ID, nil
}

// Unsubscribe terminates a subscription. Unknown ids are a no-op so the
// call is idempotent. An in-flight tick finishes; the next one never runs.
func (m *Monitor) Unsubscribe(id string) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		sub.State = StateTerminated
		delete(m.subs, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	close(sub.stop)
	<-sub.done
	metrics.ActiveSubscriptions.Dec()
	m.log.Info("subscription terminated", "subscription_id", id)
	return nil
}

// Pause suspends ticks for a subscription without stopping its loop.
func (m *Monitor) Pause(id string) error {
	return m.setState(id, StatePaused)
}

// Resume reactivates a paused subscription.
func (m *Monitor) Resume(id string) error {
	return m.setState(id, StateActive)
}

func (m *Monitor) setState(id string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return risk.SubscriptionNotFoundError(id)
	}
	sub.State = state
	return nil
}

// Get returns a snapshot of one subscription.
func (m *Monitor) Get(id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[id]
	if !ok {
		return nil, risk.SubscriptionNotFoundError(id)
	}
	return sub.snapshot(), nil
}

// List returns snapshots of all live subscriptions.
func (m *Monitor) List() []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, sub.snapshot())
	}
	return out
}

// Shutdown terminates every subscription and waits for their loops.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for id, sub := range m.subs {
		sub.State = StateTerminated
		subs = append(subs, sub)
		delete(m.subs, id)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		close(sub.stop)
		<-sub.done
		metrics.ActiveSubscriptions.Dec()
	}
}

func (m *Monitor) pollLoop(sub *Subscription) {
	defer close(sub.done)

	ticker := time.NewTicker(sub.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			if m.state(sub.ID) != StateActive {
				continue
			}
			m.tick(sub)
		}
	}
}

func (m *Monitor) state(id string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return sub.State
	}
	return StateTerminated
}

// tick re-evaluates every watched target once. A target whose
// evaluation fails is skipped for this tick with a warning; it never
// terminates the subscription.
func (m *Monitor) tick(sub *Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), m.tickTimeout)
	defer cancel()

	for _, target := range sub.Watched {
		v, err := m.evaluator.Evaluate(ctx, target, m.opts)

		m.mu.Lock()
		sub.LastCheckedAt[target.String()] = time.Now()
		m.mu.Unlock()

		if err != nil {
			m.log.Warn("monitor evaluation failed, alert suppressed for this tick",
				"subscription_id", sub.ID,
				"target", target.String(),
				"error", err)
			continue
		}

		if v.Score >= sub.RiskThreshold {
			m.emit(ctx, sub, target, v)
		}
	}
}

// emit fires one alert and delivers it to every channel, best effort.
func (m *Monitor) emit(ctx context.Context, sub *Subscription, target risk.Target, v *risk.Verdict) {
	event := AlertEvent{
		ID:             idgen.WithPrefix("alrt"),
		SubscriptionID: sub.ID,
		Target:         target,
		Verdict:        v,
		FiredAt:        time.Now(),
	}
	metrics.AlertsTotal.WithLabelValues(string(v.Level)).Inc()

	for _, ch := range sub.Channels {
		if err := ch.Deliver(ctx, event); err != nil {
			metrics.AlertDeliveriesTotal.WithLabelValues(ch.Name(), "error").Inc()
			m.log.Warn("alert delivery failed",
				"subscription_id", sub.ID,
				"channel", ch.Name(),
				"alert_id", event.ID,
				"error", err)
			continue
		}
		metrics.AlertDeliveriesTotal.WithLabelValues(ch.Name(), "ok").Inc()
	}
}

func (s *Subscription) snapshot() *Subscription {
	checked := make(map[string]time.Time, len(s.LastCheckedAt))
	for k, v := range s.LastCheckedAt {
		checked[k] = v
	}
	return &Subscription{
		ID:            s.ID,
		Watched:       append([]risk.Target(nil), s.Watched...),
		Interval:      s.Interval,
		RiskThreshold: s.RiskThreshold,
		Channels:      s.Channels,
		State:         s.State,
		CreatedAt:     s.CreatedAt,
		LastCheckedAt: checked,
	}
}
