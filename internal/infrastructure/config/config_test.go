package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
transports:
  - name: "relay-garage"
    connection: "serial:///dev/ttyUSB0"
    baud: 115200
  - connection: "tcp://192.168.4.20:3333"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}

	if len(cfg.Transports) != 2 {
		t.Fatalf("len(Transports) = %d, want 2", len(cfg.Transports))
	}

	if cfg.Transports[0].EffectiveName() != "relay-garage" {
		t.Errorf("Transports[0].EffectiveName() = %q, want %q", cfg.Transports[0].EffectiveName(), "relay-garage")
	}

	// Unnamed transports fall back to the connection URL
	if cfg.Transports[1].EffectiveName() != "tcp://192.168.4.20:3333" {
		t.Errorf("Transports[1].EffectiveName() = %q, want connection URL", cfg.Transports[1].EffectiveName())
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
}

func TestLoad_TimingDefaults(t *testing.T) {
	content := `
site:
  id: "test-site"
transports:
  - connection: "serial:///dev/ttyUSB0"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.Transports[0].GetMinCommandInterval(cfg.Relay); got != 500*time.Millisecond {
		t.Errorf("GetMinCommandInterval() = %v, want 500ms", got)
	}
	if got := cfg.Transports[0].GetCommandTimeout(cfg.Relay); got != 10*time.Second {
		t.Errorf("GetCommandTimeout() = %v, want 10s", got)
	}
	if got := cfg.Relay.GetSettleDelay(); got != 2*time.Second {
		t.Errorf("GetSettleDelay() = %v, want 2s", got)
	}
	if got := cfg.Scan.GetInterval(); got != 30*time.Second {
		t.Errorf("Scan.GetInterval() = %v, want 30s", got)
	}
}

func TestLoad_TransportOverrides(t *testing.T) {
	content := `
site:
  id: "test-site"
transports:
  - connection: "tcp://relay:3333"
    min_command_interval_ms: 250
    command_timeout: 5
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.Transports[0].GetMinCommandInterval(cfg.Relay); got != 250*time.Millisecond {
		t.Errorf("GetMinCommandInterval() = %v, want 250ms", got)
	}
	if got := cfg.Transports[0].GetCommandTimeout(cfg.Relay); got != 5*time.Second {
		t.Errorf("GetCommandTimeout() = %v, want 5s", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "no transports",
			mutate:  func(c *Config) { c.Transports = nil },
			wantErr: true,
		},
		{
			name: "unsupported scheme",
			mutate: func(c *Config) {
				c.Transports[0].Connection = "ftp://relay"
			},
			wantErr: true,
		},
		{
			name: "duplicate transport name",
			mutate: func(c *Config) {
				c.Transports = append(c.Transports, TransportConfig{
					Name:       "relay-a",
					Connection: "tcp://other:3333",
				})
			},
			wantErr: true,
		},
		{
			name:    "zero command timeout",
			mutate:  func(c *Config) { c.Relay.CommandTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero scan attempts",
			mutate:  func(c *Config) { c.Scan.Attempts = 0 },
			wantErr: true,
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Transports = []TransportConfig{{
				Name:       "relay-a",
				Connection: "serial:///dev/ttyUSB0",
			}}
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BULBGRID_DATABASE_PATH", "/custom/path.db")
	t.Setenv("BULBGRID_MQTT_HOST", "broker.local")
	t.Setenv("BULBGRID_SCAN_INTERVAL", "60")

	content := `
site:
  id: "test-site"
transports:
  - connection: "serial:///dev/ttyUSB0"
database:
  path: "/tmp/test.db"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
	if cfg.Scan.Interval != 60 {
		t.Errorf("Scan.Interval = %d, want 60", cfg.Scan.Interval)
	}
}
