package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Bulbgrid Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig        `yaml:"site"`
	Relay      RelayConfig       `yaml:"relay"`
	Transports []TransportConfig `yaml:"transports"`
	Scan       ScanConfig        `yaml:"scan"`
	Database   DatabaseConfig    `yaml:"database"`
	MQTT       MQTTConfig        `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig    `yaml:"influxdb"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// SiteConfig contains installation-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// RelayConfig contains the shared timing defaults for all relay transports.
// Individual transports can override pacing and command timeout.
type RelayConfig struct {
	// MinCommandIntervalMs is the minimum delay between successive command
	// dispatches on one transport (milliseconds).
	MinCommandIntervalMs int `yaml:"min_command_interval_ms"`

	// CommandTimeout is the overall per-command budget (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	// ReadTimeoutMs bounds a single line-read attempt (milliseconds).
	ReadTimeoutMs int `yaml:"read_timeout_ms"`

	// ConnectTimeout is the maximum time to establish a channel (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// SettleDelayMs is the pause after connecting before the channel is used.
	// Relay controllers may still be rebooting when the port opens.
	SettleDelayMs int `yaml:"settle_delay_ms"`

	// DrainTimeoutMs bounds each read of the post-connect drain loop.
	DrainTimeoutMs int `yaml:"drain_timeout_ms"`
}

// TransportConfig describes one relay transport.
type TransportConfig struct {
	// Name identifies the transport in logs, topics and the device directory.
	// Defaults to the connection URL if empty.
	Name string `yaml:"name"`

	// Connection is the transport URL.
	// Supported formats:
	//   - "serial:///dev/ttyUSB0" (serial port)
	//   - "tcp://192.168.4.20:3333" (socket line channel)
	//   - "http://192.168.4.21:80" (HTTP endpoint)
	Connection string `yaml:"connection"`

	// Baud is the serial baud rate. Ignored for tcp/http. Default: 115200.
	Baud int `yaml:"baud"`

	// MinCommandIntervalMs overrides relay.min_command_interval_ms when > 0.
	MinCommandIntervalMs int `yaml:"min_command_interval_ms,omitempty"`

	// CommandTimeout overrides relay.command_timeout when > 0 (seconds).
	CommandTimeout int `yaml:"command_timeout,omitempty"`
}

// ScanConfig contains device directory scan settings.
type ScanConfig struct {
	// Interval is the periodic rescan cadence (seconds).
	Interval int `yaml:"interval"`

	// Attempts is how many times a transport's list query is tried per scan.
	Attempts int `yaml:"attempts"`

	// RetryBackoffMs is the delay between scan attempts on one transport.
	RetryBackoffMs int `yaml:"retry_backoff_ms"`

	// Parallelism bounds how many transports are scanned concurrently.
	Parallelism int `yaml:"parallelism"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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
// Environment variables follow the pattern: BULBGRID_SECTION_KEY
// For example: BULBGRID_DATABASE_PATH, BULBGRID_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Bulbgrid",
		},
		Relay: RelayConfig{
			MinCommandIntervalMs: 500,
			CommandTimeout:       10,
			ReadTimeoutMs:        250,
			ConnectTimeout:       10,
			SettleDelayMs:        2000,
			DrainTimeoutMs:       100,
		},
		Scan: ScanConfig{
			Interval:       30,
			Attempts:       2,
			RetryBackoffMs: 500,
			Parallelism:    4,
		},
		Database: DatabaseConfig{
			Path:        "./data/bulbgrid.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "bulbgrid-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BULBGRID_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("BULBGRID_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("BULBGRID_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BULBGRID_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BULBGRID_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("BULBGRID_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Scan cadence
	if v := os.Getenv("BULBGRID_SCAN_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scan.Interval = n
		}
	}

	// Logging
	if v := os.Getenv("BULBGRID_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Transport validation
	if len(c.Transports) == 0 {
		errs = append(errs, "at least one transport is required")
	}
	seen := make(map[string]bool, len(c.Transports))
	for i, t := range c.Transports {
		if t.Connection == "" {
			errs = append(errs, fmt.Sprintf("transports[%d].connection is required", i))
			continue
		}
		if !hasSupportedScheme(t.Connection) {
			errs = append(errs, fmt.Sprintf("transports[%d].connection %q must use serial://, tcp:// or http://", i, t.Connection))
		}
		name := t.EffectiveName()
		if seen[name] {
			errs = append(errs, fmt.Sprintf("transports[%d] duplicates name %q", i, name))
		}
		seen[name] = true
	}

	// Relay timing validation
	if c.Relay.MinCommandIntervalMs < 0 {
		errs = append(errs, "relay.min_command_interval_ms must not be negative")
	}
	if c.Relay.CommandTimeout <= 0 {
		errs = append(errs, "relay.command_timeout must be positive")
	}
	if c.Relay.ReadTimeoutMs <= 0 {
		errs = append(errs, "relay.read_timeout_ms must be positive")
	}

	// Scan validation
	if c.Scan.Interval <= 0 {
		errs = append(errs, "scan.interval must be positive")
	}
	if c.Scan.Attempts <= 0 {
		errs = append(errs, "scan.attempts must be positive")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// hasSupportedScheme reports whether a connection URL uses a known scheme.
func hasSupportedScheme(connection string) bool {
	for _, scheme := range []string{"serial://", "tcp://", "http://"} {
		if strings.HasPrefix(connection, scheme) {
			return true
		}
	}
	return false
}

// EffectiveName returns the transport name, falling back to the connection URL.
func (t TransportConfig) EffectiveName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Connection
}

// GetMinCommandInterval returns the pacing floor for this transport.
func (t TransportConfig) GetMinCommandInterval(defaults RelayConfig) time.Duration {
	ms := defaults.MinCommandIntervalMs
	if t.MinCommandIntervalMs > 0 {
		ms = t.MinCommandIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

// GetCommandTimeout returns the overall per-command budget for this transport.
func (t TransportConfig) GetCommandTimeout(defaults RelayConfig) time.Duration {
	s := defaults.CommandTimeout
	if t.CommandTimeout > 0 {
		s = t.CommandTimeout
	}
	return time.Duration(s) * time.Second
}

// GetReadTimeout returns the single-read timeout as a Duration.
func (c RelayConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// GetConnectTimeout returns the connect timeout as a Duration.
func (c RelayConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetSettleDelay returns the post-connect settle delay as a Duration.
func (c RelayConfig) GetSettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// GetDrainTimeout returns the drain-loop read bound as a Duration.
func (c RelayConfig) GetDrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMs) * time.Millisecond
}

// GetInterval returns the periodic rescan cadence as a Duration.
func (s ScanConfig) GetInterval() time.Duration {
	return time.Duration(s.Interval) * time.Second
}

// GetRetryBackoff returns the per-transport scan retry delay as a Duration.
func (s ScanConfig) GetRetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffMs) * time.Millisecond
}
