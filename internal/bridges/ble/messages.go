package ble

import (
	"time"
)

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge runs but has no bonded peer connected.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is the last-will status set by the broker.
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained bridge health document.
// Topic: bridge/_bridge/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when the status was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	Status  HealthStatus `json:"status"`
	Version string       `json:"version,omitempty"`

	UptimeSeconds int64 `json:"uptime_seconds"`

	// Pool reports slot usage.
	Pool *PoolStatus `json:"pool,omitempty"`

	// Statistics contains operational counters.
	Statistics *Statistics `json:"statistics,omitempty"`

	// Reason explains degraded and offline states.
	Reason string `json:"reason,omitempty"`
}

// PoolStatus describes connection pool usage.
type PoolStatus struct {
	Capacity  int    `json:"capacity"`
	Connected int    `json:"connected"`
	Scanner   string `json:"scanner"`
}

// Statistics holds bridge counters since start.
type Statistics struct {
	NotificationsRelayed uint64 `json:"notifications_relayed"`
	WritesDispatched     uint64 `json:"writes_dispatched"`
	WritesFailed         uint64 `json:"writes_failed"`
	ControlRejected      uint64 `json:"control_rejected"`
	Connects             uint64 `json:"connects"`
	Disconnects          uint64 `json:"disconnects"`
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, pool PoolStatus, stats Statistics, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Pool:          &pool,
		Statistics:    &stats,
	}
}

// NewLWTMessage creates the last-will message registered with the broker.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// EventType names a bridge event.
type EventType string

// Bridge event types.
const (
	EventConnected     EventType = "connected"
	EventDisconnected  EventType = "disconnected"
	EventDiscoveryDone EventType = "discovery_done"
	EventNotification  EventType = "notification"
	EventWriteFailed   EventType = "write_failed"
	EventControlDenied EventType = "control_rejected"
)

// Event is a bridge occurrence reported to the event log and to live
// subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Address   string    `json:"address,omitempty"`
	Handle    uint16    `json:"handle,omitempty"`
	Value     string    `json:"value,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink receives bridge events. Implementations must not block.
type EventSink interface {
	RecordEvent(ev Event)
}
