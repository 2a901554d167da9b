package rako

import "time"

// EventType classifies bridge events delivered to an EventSink.
type EventType string

const (
	// EventLevel is a channel level published to the bus.
	EventLevel EventType = "level"

	// EventScene is a room scene change published to the bus.
	EventScene EventType = "scene"

	// EventHubStatus is a status document from the hub.
	EventHubStatus EventType = "hub_status"

	// EventRegistry is emitted after a room or channel listing rebuilt the
	// registry.
	EventRegistry EventType = "registry"

	// EventConnection is a hub connection state change.
	EventConnection EventType = "connection"

	// EventCommand is a bus command processed by the command worker.
	EventCommand EventType = "command"
)

// Event is a notable thing that happened inside the bridge. Fields that do
// not apply to the event type are zero.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Room      int       `json:"room,omitempty"`
	Channel   int       `json:"channel,omitempty"`
	Level     int       `json:"level,omitempty"`
	Scene     int       `json:"scene,omitempty"`

	// State is the connection state for EventConnection and the command
	// outcome for EventCommand.
	State string `json:"state,omitempty"`

	// Reconnects is the reconnect total at the time of an EventConnection.
	Reconnects uint64 `json:"reconnects,omitempty"`

	Detail string `json:"detail,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running with a lost link.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained bridge health document.
// Topic: rakobridge/health
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Hub describes the hub link.
	Hub *HubStatus `json:"hub,omitempty"`

	// Statistics contains operational counters.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// RoomsManaged is the number of enabled rooms.
	RoomsManaged int `json:"rooms_managed"`

	// ChannelsManaged is the number of enabled channels.
	ChannelsManaged int `json:"channels_managed"`

	// Reason explains a degraded status.
	Reason string `json:"reason,omitempty"`
}

// HubStatus describes the hub connection in a health message.
type HubStatus struct {
	// State is the connection state ("connected", "connecting", "disconnected").
	State string `json:"state"`

	// Address is the hub host:port.
	Address string `json:"address"`

	// Phase is the handshake phase.
	Phase string `json:"phase"`

	// HubID and Version come from the last status document.
	HubID   string `json:"hub_id,omitempty"`
	Version string `json:"version,omitempty"`

	// ConnectedSince is when the current session was established.
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	DocumentsReceived uint64 `json:"documents_received"`
	FramesDiscarded   uint64 `json:"frames_discarded"`
	BytesReceived     uint64 `json:"bytes_received"`
	BytesSent         uint64 `json:"bytes_sent"`
	Reconnects        uint64 `json:"reconnects"`
	CommandsAccepted  uint64 `json:"commands_accepted"`
	CommandsRejected  uint64 `json:"commands_rejected"`
	CommandsDropped   uint64 `json:"commands_dropped"`
}
