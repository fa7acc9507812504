package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ethersentinel/sentinel/internal/monitor"
	"github.com/ethersentinel/sentinel/internal/risk"
)

const (
	addrA = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	addrB = "0x1111111111111111111111111111111111111111"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func verdictEvent(reference string, score float64) *Event {
	return &Event{
		Type:      EventVerdict,
		Timestamp: time.Now(),
		Data: &risk.Verdict{
			Target: risk.Target{Kind: risk.KindAddress, Reference: reference},
			Score:  score,
			Level:  risk.LevelFromScore(score),
		},
	}
}

func alertEvent(reference string, score float64) *Event {
	return &Event{
		Type:      EventAlert,
		Timestamp: time.Now(),
		Data: monitor.AlertEvent{
			ID:     "alrt_test",
			Target: risk.Target{Kind: risk.KindAddress, Reference: reference},
			Verdict: &risk.Verdict{
				Target: risk.Target{Kind: risk.KindAddress, Reference: reference},
				Score:  score,
			},
		},
	}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	if !h.shouldSend(client, verdictEvent(addrA, 0.2)) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventAlert},
	}}

	if !h.shouldSend(client, alertEvent(addrA, 0.9)) {
		t.Error("Should receive alert events")
	}
	if h.shouldSend(client, verdictEvent(addrA, 0.9)) {
		t.Error("Should NOT receive verdict events")
	}
}

func TestShouldSend_TargetFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Targets: []string{addrA},
	}}

	if !h.shouldSend(client, verdictEvent(addrA, 0.5)) {
		t.Error("Should match watched target")
	}
	if h.shouldSend(client, verdictEvent(addrB, 0.5)) {
		t.Error("Should NOT match unrelated target")
	}
	if !h.shouldSend(client, alertEvent(addrA, 0.9)) {
		t.Error("Should match watched target on alerts too")
	}
}

func TestShouldSend_MinScoreFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinScore: 0.7,
	}}

	if !h.shouldSend(client, verdictEvent(addrA, 0.85)) {
		t.Error("Should receive high-score verdict")
	}
	if h.shouldSend(client, verdictEvent(addrA, 0.3)) {
		t.Error("Should NOT receive low-score verdict")
	}
}

// ---------------------------------------------------------------------------
// Broadcast and lifecycle tests
// ---------------------------------------------------------------------------

func TestBroadcastReachesSubscribedClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{AllEvents: true}}
	h.register <- client

	h.BroadcastVerdict(&risk.Verdict{
		ID:     "vrd_test",
		Target: risk.Target{Kind: risk.KindAddress, Reference: addrA},
		Score:  0.9,
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("empty broadcast payload")
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast never reached client")
	}
}

func TestSlowClientEvicted(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	// Unbuffered send channel and no reader: first broadcast marks it slow.
	client := &Client{hub: h, send: make(chan []byte), sub: Subscription{AllEvents: true}}
	h.register <- client

	h.BroadcastVerdict(&risk.Verdict{Target: risk.Target{Kind: risk.KindAddress, Reference: addrA}})

	deadline := time.After(time.Second)
	for {
		h.mu.RLock()
		_, present := h.clients[client]
		h.mu.RUnlock()
		if !present {
			return
		}
		select {
		case <-deadline:
			t.Fatal("slow client never evicted")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{AllEvents: true}}
	h.register <- client

	deadline := time.After(time.Second)
	for {
		stats := h.Stats()
		if stats["connectedClients"].(int) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("client never counted in stats")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAlertChannelDelivers(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	ch := NewAlertChannel(h)
	if ch.Name() != "realtime" {
		t.Errorf("Name() = %q, want realtime", ch.Name())
	}
	if err := ch.Deliver(context.Background(), monitor.AlertEvent{
		ID:     "alrt_test",
		Target: risk.Target{Kind: risk.KindAddress, Reference: addrA},
	}); err != nil {
		t.Errorf("Deliver: %v", err)
	}
}
