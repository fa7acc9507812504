package realtime

import (
	"context"

	"github.com/ethersentinel/sentinel/internal/monitor"
)

// AlertChannel adapts the hub into a monitor notification channel so
// alerts reach WebSocket subscribers.
type AlertChannel struct {
	hub *Hub
}

// NewAlertChannel wraps hub as a notification channel.
func NewAlertChannel(hub *Hub) *AlertChannel {
	return &AlertChannel{hub: hub}
}

func (c *AlertChannel) Name() string { return "realtime" }

// Deliver broadcasts the alert. Broadcast is fire and forget, so
// delivery never fails; a full hub drops the event with a log line.
func (c *AlertChannel) Deliver(_ context.Context, event monitor.AlertEvent) error {
	c.hub.BroadcastAlert(event)
	return nil
}
