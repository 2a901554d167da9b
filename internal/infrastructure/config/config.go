package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultHubPort is the TCP port the RAKO hub listens on.
const DefaultHubPort = 9762

// Config is the root configuration structure for the RAKO bridge.
// All configuration is loaded from YAML and can be overridden by environment
// variables and command-line flags.
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HubConfig contains RAKO hub connection and protocol pacing settings.
type HubConfig struct {
	// Address is the hub's IP address or hostname. Required.
	Address string `yaml:"address"`

	// Port is the hub's TCP port. Default: 9762.
	Port int `yaml:"port"`

	// ClientName is announced to the hub in the subscription line.
	ClientName string `yaml:"client_name"`

	// TickInterval is the idle tick period in milliseconds. Default: 10.
	TickInterval int `yaml:"tick_interval_ms"`

	// KeepaliveTicks is the number of steady-state ticks between status
	// keepalives. Default: 1000.
	KeepaliveTicks int `yaml:"keepalive_ticks"`

	// ResyncTicks is the number of steady-state ticks between full level
	// resyncs. Default: 30000.
	ResyncTicks int `yaml:"resync_ticks"`

	// StatusTimeoutTicks is how many ticks a keepalive may go unanswered
	// before the connection is abandoned. Default: 500.
	StatusTimeoutTicks int `yaml:"status_timeout_ticks"`

	// ReconnectInterval is the delay between connection attempts (seconds).
	// Default: 1.
	ReconnectInterval int `yaml:"reconnect_interval"`

	// ConnectTimeout bounds a single dial attempt (seconds). Default: 5.
	ConnectTimeout int `yaml:"connect_timeout"`

	// CommandRepeat is how many times each level/scene request is written
	// to the hub. Default: 2.
	CommandRepeat int `yaml:"command_repeat"`

	// ScenePause is the pause between scene state publications (milliseconds).
	// Default: 1.
	ScenePause int `yaml:"scene_pause_ms"`

	// CommandQueueSize bounds the number of pending bus commands. Default: 64.
	CommandQueueSize int `yaml:"command_queue_size"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// DiscoveryPrefix is the Home Assistant discovery prefix that all bridge
	// topics live under. Default: "homeassistant".
	DiscoveryPrefix string `yaml:"discovery_prefix"`

	// HealthInterval is how often to publish bridge health (seconds).
	// Default: 30.
	HealthInterval int `yaml:"health_interval"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`

	// Password for MQTT authentication.
	// WARNING: Never log this value. Use String() for safe logging.
	Password string `yaml:"password"`
}

// String returns a log-safe representation with the password redacted.
func (a MQTTAuthConfig) String() string {
	return fmt.Sprintf("{Username:%s Password:%s}", a.Username, redact(a.Password))
}

// MarshalJSON implements json.Marshaler with the password redacted.
func (a MQTTAuthConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{
		Username: a.Username,
		Password: redact(a.Password),
	})
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DatabaseConfig contains SQLite settings for the command journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// An empty path skips the file, so a deployment can be configured entirely
// through the environment. Validation is left to the caller because
// command-line flags are applied after Load.
//
// Environment variables follow the pattern: RAKOBRIDGE_SECTION_KEY
// For example: RAKOBRIDGE_HUB_ADDRESS, RAKOBRIDGE_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file (may be empty)
//
// Returns:
//   - *Config: Loaded configuration
//   - error: If the file cannot be read or parsed
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			Port:               DefaultHubPort,
			ClientName:         "HA_CLIENT",
			TickInterval:       10,
			KeepaliveTicks:     1000,
			ResyncTicks:        30000,
			StatusTimeoutTicks: 500,
			ReconnectInterval:  1,
			ConnectTimeout:     5,
			CommandRepeat:      2,
			ScenePause:         1,
			CommandQueueSize:   64,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port:     1883,
				ClientID: "rakobridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			DiscoveryPrefix: "homeassistant",
			HealthInterval:  30,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/rakobridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8097,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RAKOBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("RAKOBRIDGE_HUB_ADDRESS"); v != "" {
		cfg.Hub.Address = v
	}
	if v := os.Getenv("RAKOBRIDGE_HUB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Hub.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("RAKOBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RAKOBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RAKOBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("RAKOBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("RAKOBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("RAKOBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// The hub address, broker host and broker credentials are mandatory: the
// bridge refuses to start without them.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Hub validation
	if c.Hub.Address == "" {
		errs = append(errs, "hub.address is required")
	}
	if c.Hub.Port < 1 || c.Hub.Port > 65535 {
		errs = append(errs, "hub.port must be between 1 and 65535")
	}
	if c.Hub.TickInterval < 1 {
		errs = append(errs, "hub.tick_interval_ms must be positive")
	}
	if c.Hub.KeepaliveTicks < 1 || c.Hub.ResyncTicks < 1 || c.Hub.StatusTimeoutTicks < 1 {
		errs = append(errs, "hub tick budgets must be positive")
	}
	if c.Hub.StatusTimeoutTicks >= c.Hub.KeepaliveTicks {
		errs = append(errs, "hub.status_timeout_ticks must be less than hub.keepalive_ticks")
	}
	if c.Hub.CommandRepeat < 1 {
		errs = append(errs, "hub.command_repeat must be at least 1")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Auth.Username == "" {
		errs = append(errs, "mqtt.auth.username is required")
	}
	if c.MQTT.Auth.Password == "" {
		errs = append(errs, "mqtt.auth.password is required (set RAKOBRIDGE_MQTT_PASSWORD environment variable)")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if strings.Trim(c.MQTT.DiscoveryPrefix, "/") == "" {
		errs = append(errs, "mqtt.discovery_prefix is required")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the command journal is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HubAddress returns the hub's host:port dial address.
func (c *Config) HubAddress() string {
	return fmt.Sprintf("%s:%d", c.Hub.Address, c.Hub.Port)
}

// GetTickInterval returns the hub idle tick period as a Duration.
func (c *Config) GetTickInterval() time.Duration {
	return time.Duration(c.Hub.TickInterval) * time.Millisecond
}

// GetReconnectInterval returns the hub reconnect delay as a Duration.
func (c *Config) GetReconnectInterval() time.Duration {
	return time.Duration(c.Hub.ReconnectInterval) * time.Second
}

// GetConnectTimeout returns the hub dial timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Hub.ConnectTimeout) * time.Second
}

// GetScenePause returns the pause between scene state publications.
func (c *Config) GetScenePause() time.Duration {
	return time.Duration(c.Hub.ScenePause) * time.Millisecond
}

// GetHealthInterval returns the health publishing interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.MQTT.HealthInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
