package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixed per-peer pool sizes. These are resource sizing choices, not protocol
// limits, and are not configurable.
const (
	// MaxSubscriptionsPerPeer is the number of subscription entries per connection slot.
	MaxSubscriptionsPerPeer = 10

	// MaxWritesPerPeer is the number of in-flight write entries per connection slot.
	MaxWritesPerPeer = 5

	// MaxWritePayload is the size of each write entry's buffer in bytes.
	MaxWritePayload = 5
)

// Broker discovery modes for MQTTBrokerConfig.Discovery.
const (
	DiscoveryStatic  = "static"
	DiscoveryGateway = "gateway"
	DiscoveryMDNS    = "mdns"
)

// Bond sources for BluetoothConfig.Bonds.Source.
const (
	BondSourceConfig = "config"
	BondSourceSQLite = "sqlite"
	BondSourceBlueZ  = "bluez"
)

// Config is the root configuration structure for the BLE bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive time.Duration       `yaml:"keepalive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	// ClientID is generated per process when empty.
	ClientID string `yaml:"client_id"`

	// Discovery selects how the broker address is resolved before each
	// connection attempt: "static", "gateway" or "mdns".
	Discovery string `yaml:"discovery"`

	// MDNSService is the DNS-SD service browsed when Discovery is "mdns".
	MDNSService string `yaml:"mdns_service"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains the session reconnect loop timing.
type MQTTReconnectConfig struct {
	// ConnectTimeout bounds the wait for the CONNACK of one attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Backoff is the fixed delay between failed attempts.
	Backoff time.Duration `yaml:"backoff"`
}

// BluetoothConfig contains the BLE central settings.
type BluetoothConfig struct {
	// Adapter is the HCI device index (0 for hci0).
	Adapter int `yaml:"adapter"`

	// MaxConnections is the connection pool capacity.
	MaxConnections int `yaml:"max_connections"`

	// ScanInterval and ScanWindow are in 0.625ms units as sent to the controller.
	ScanInterval uint16 `yaml:"scan_interval"`
	ScanWindow   uint16 `yaml:"scan_window"`

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// RescanDelay is the pause before scanning again after a failure.
	RescanDelay time.Duration `yaml:"rescan_delay"`

	// Bonds selects where the bond list is read from.
	Bonds BondsConfig `yaml:"bonds"`

	// Simulate replaces the HCI adapter with in-process simulated peers.
	Simulate bool `yaml:"simulate"`
}

// BondsConfig selects the bond list source.
type BondsConfig struct {
	Source    string   `yaml:"source"`
	Addresses []string `yaml:"addresses"`
}

// BridgeConfig contains bridge behaviour settings.
type BridgeConfig struct {
	ID             string        `yaml:"id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	HealthInterval time.Duration `yaml:"health_interval"`
	RecordEvents   bool          `yaml:"record_events"`

	// EventRetention is how long recorded events are kept.
	EventRetention time.Duration `yaml:"event_retention"`
}

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// Token, when set, is required as a bearer token on every route
	// except health.
	Token string `yaml:"token"`

	// JWTSecret, when set, also admits HS256 access tokens signed with it,
	// such as those issued by the site controller.
	JWTSecret string `yaml:"jwt_secret"`

	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: BLEBRIDGE_SECTION_KEY
// For example: BLEBRIDGE_MQTT_HOST, BLEBRIDGE_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration without reading a file.
// Used when the bridge runs without a config file (e.g. simulator mode).
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
// The timing values mirror the gateway firmware this bridge replaces.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "BLE Bridge",
		},
		Database: DatabaseConfig{
			Path:        "./data/blebridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:        "localhost",
				Port:        1883,
				ClientID:    "blebridge",
				Discovery:   DiscoveryStatic,
				MDNSService: "_mqtt._tcp",
			},
			QoS:       1,
			KeepAlive: 60 * time.Second,
			Reconnect: MQTTReconnectConfig{
				ConnectTimeout: 2 * time.Second,
				Backoff:        500 * time.Millisecond,
			},
		},
		Bluetooth: BluetoothConfig{
			Adapter:        0,
			MaxConnections: 4,
			ScanInterval:   0x0060,
			ScanWindow:     0x0030,
			DialTimeout:    10 * time.Second,
			RescanDelay:    time.Second,
			Bonds: BondsConfig{
				Source: BondSourceConfig,
			},
		},
		Bridge: BridgeConfig{
			ID:             "ble-bridge-01",
			TopicPrefix:    "bridge",
			HealthInterval: 30 * time.Second,
			RecordEvents:   true,
			EventRetention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8081,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BLEBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("BLEBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("BLEBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BLEBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("BLEBRIDGE_MQTT_DISCOVERY"); v != "" {
		cfg.MQTT.Broker.Discovery = v
	}
	if v := os.Getenv("BLEBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BLEBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Bluetooth
	if v := os.Getenv("BLEBRIDGE_BLUETOOTH_BONDS"); v != "" {
		cfg.Bluetooth.Bonds.Source = BondSourceConfig
		cfg.Bluetooth.Bonds.Addresses = strings.Split(v, ",")
	}
	if v := os.Getenv("BLEBRIDGE_BLUETOOTH_SIMULATE"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			cfg.Bluetooth.Simulate = on
		}
	}

	// API
	if v := os.Getenv("BLEBRIDGE_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv("BLEBRIDGE_API_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}

	// InfluxDB
	if v := os.Getenv("BLEBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	switch c.MQTT.Broker.Discovery {
	case DiscoveryStatic:
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required for static discovery")
		}
	case DiscoveryGateway, DiscoveryMDNS:
	default:
		errs = append(errs, fmt.Sprintf("mqtt.broker.discovery %q must be static, gateway, or mdns", c.MQTT.Broker.Discovery))
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Reconnect.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.reconnect.connect_timeout must be positive")
	}
	if c.MQTT.Reconnect.Backoff <= 0 {
		errs = append(errs, "mqtt.reconnect.backoff must be positive")
	}

	// Bluetooth validation
	if c.Bluetooth.MaxConnections < 1 {
		errs = append(errs, "bluetooth.max_connections must be at least 1")
	}
	if c.Bluetooth.ScanWindow > c.Bluetooth.ScanInterval {
		errs = append(errs, "bluetooth.scan_window must not exceed bluetooth.scan_interval")
	}
	switch c.Bluetooth.Bonds.Source {
	case BondSourceConfig, BondSourceSQLite, BondSourceBlueZ:
	default:
		errs = append(errs, fmt.Sprintf("bluetooth.bonds.source %q must be config, sqlite, or bluez", c.Bluetooth.Bonds.Source))
	}

	// Bridge validation
	if c.Bridge.TopicPrefix == "" || strings.ContainsAny(c.Bridge.TopicPrefix, "+#") {
		errs = append(errs, "bridge.topic_prefix must be non-empty and contain no wildcards")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	const minJWTSecretLength = 32
	if c.API.JWTSecret != "" && len(c.API.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("api.jwt_secret must be at least %d characters", minJWTSecretLength))
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
