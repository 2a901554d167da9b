package rako

import (
	"time"

	"github.com/nerrad567/rako-bridge/internal/infrastructure/config"
)

// Bridge defaults not covered by the connection or handshake defaults.
const (
	// DefaultBridgeID names the bridge in health messages.
	DefaultBridgeID = "rakobridge"

	// DefaultCommandRepeat is how many times each command is written.
	DefaultCommandRepeat = 2

	// DefaultCommandQueueSize bounds pending bus commands.
	DefaultCommandQueueSize = 64

	// defaultHealthInterval is how often health is published.
	defaultHealthInterval = 30 * time.Second
)

// Config holds the bridge settings.
type Config struct {
	// BridgeID names the bridge in health messages.
	BridgeID string

	// Address is the hub host:port. Required.
	Address string

	// ClientName is announced to the hub in the subscribe line.
	ClientName string

	// TickInterval is the hub loop tick.
	TickInterval time.Duration

	// ReconnectInterval is the pause between connection attempts.
	ReconnectInterval time.Duration

	// ConnectTimeout bounds a single dial.
	ConnectTimeout time.Duration

	// KeepaliveTicks, ResyncTicks and StatusTimeoutTicks are tick budgets
	// for the keepalive, the periodic LEVEL resync and the watchdog.
	KeepaliveTicks     int
	ResyncTicks        int
	StatusTimeoutTicks int

	// CommandRepeat is how many times each command is written to the hub.
	CommandRepeat int

	// ScenePause is the pause between scene fan-out messages.
	ScenePause time.Duration

	// CommandQueueSize bounds pending bus commands.
	CommandQueueSize int

	// QoS is used for every publish and the command subscription.
	QoS byte

	// DiscoveryPrefix is the Home Assistant discovery prefix.
	DiscoveryPrefix string

	// HealthInterval is how often health is published.
	HealthInterval time.Duration
}

// ConfigFrom builds bridge settings from the application configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		BridgeID:           DefaultBridgeID,
		Address:            cfg.HubAddress(),
		ClientName:         cfg.Hub.ClientName,
		TickInterval:       cfg.GetTickInterval(),
		ReconnectInterval:  cfg.GetReconnectInterval(),
		ConnectTimeout:     cfg.GetConnectTimeout(),
		KeepaliveTicks:     cfg.Hub.KeepaliveTicks,
		ResyncTicks:        cfg.Hub.ResyncTicks,
		StatusTimeoutTicks: cfg.Hub.StatusTimeoutTicks,
		CommandRepeat:      cfg.Hub.CommandRepeat,
		ScenePause:         cfg.GetScenePause(),
		CommandQueueSize:   cfg.Hub.CommandQueueSize,
		QoS:                byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		DiscoveryPrefix:    cfg.MQTT.DiscoveryPrefix,
		HealthInterval:     cfg.GetHealthInterval(),
	}
}

// applyDefaults fills zero values. ScenePause may legitimately be zero.
func (c *Config) applyDefaults() {
	if c.BridgeID == "" {
		c.BridgeID = DefaultBridgeID
	}
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.KeepaliveTicks <= 0 {
		c.KeepaliveTicks = DefaultKeepaliveTicks
	}
	if c.ResyncTicks <= 0 {
		c.ResyncTicks = DefaultResyncTicks
	}
	if c.StatusTimeoutTicks <= 0 {
		c.StatusTimeoutTicks = DefaultStatusTimeoutTicks
	}
	if c.CommandRepeat <= 0 {
		c.CommandRepeat = DefaultCommandRepeat
	}
	if c.ScenePause < 0 {
		c.ScenePause = 0
	}
	if c.CommandQueueSize <= 0 {
		c.CommandQueueSize = DefaultCommandQueueSize
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
}
