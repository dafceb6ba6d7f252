// Bulbgrid Core - Relay Transport & Dispatch Engine
//
// This is the main entry point for the Bulbgrid Core service. It owns
// the relay transports (serial, TCP, HTTP), the per-transport command
// queues, the bulb directory and the dispatcher, and exposes them to
// the rest of the platform over MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"

	_ "github.com/bulbgrid/bulbgrid-core/migrations"

	"github.com/bulbgrid/bulbgrid-core/internal/bulb"
	"github.com/bulbgrid/bulbgrid-core/internal/infrastructure/config"
	"github.com/bulbgrid/bulbgrid-core/internal/infrastructure/database"
	"github.com/bulbgrid/bulbgrid-core/internal/infrastructure/influxdb"
	"github.com/bulbgrid/bulbgrid-core/internal/infrastructure/logging"
	"github.com/bulbgrid/bulbgrid-core/internal/infrastructure/mqtt"
	"github.com/bulbgrid/bulbgrid-core/internal/relay"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Bulbgrid Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	commandLog := bulb.NewSQLiteCommandLog(db.DB)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the directory from configured transports
	directory := bulb.NewDirectory(bulb.DirectoryConfig{
		ScanAttempts: cfg.Scan.Attempts,
		RetryBackoff: cfg.Scan.GetRetryBackoff(),
		Parallelism:  cfg.Scan.Parallelism,
	})
	directory.SetLogger(log.Component("directory"))
	defer func() {
		log.Info("closing transports")
		if closeErr := directory.Close(); closeErr != nil {
			log.Error("error closing transports", "error", closeErr)
		}
	}()

	for _, tc := range cfg.Transports {
		client := buildTransportClient(tc, cfg.Relay, log)
		if addErr := directory.AddTransport(client); addErr != nil {
			return fmt.Errorf("registering transport %s: %w", tc.EffectiveName(), addErr)
		}
		log.Info("transport registered",
			"name", tc.EffectiveName(),
			"connection", tc.Connection,
			"min_interval", tc.GetMinCommandInterval(cfg.Relay),
		)
	}

	// Dispatcher with audit trail and optional telemetry
	dispatcher := bulb.NewDispatcher(directory)
	dispatcher.SetLogger(log.Component("dispatcher"))
	dispatcher.SetCommandLog(commandLog)
	if influxClient != nil {
		dispatcher.SetMetrics(influxClient)
	}

	// MQTT bridge (optional, follows the broker)
	var bridge *bulb.Bridge
	if mqttClient != nil {
		bridge = bulb.NewBridge(&mqttBridgeAdapter{client: mqttClient, log: log}, dispatcher, directory)
		bridge.SetLogger(log.Component("bridge"))
		if startErr := bridge.Start(); startErr != nil {
			return fmt.Errorf("starting bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping bridge")
			bridge.Stop()
		}()
	}

	// Initial scan builds the first binding. A transport being down at
	// boot is not fatal; the periodic rescan will pick it up.
	if report, scanErr := directory.RescanAll(ctx); scanErr != nil {
		log.Warn("initial scan failed", "error", scanErr)
	} else {
		publishScan(bridge, influxClient, directory, report)
	}

	// Periodic rescans keep the binding fresh absent errors
	scheduler := cron.New()
	_, err = scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Scan.GetInterval()), func() {
		scanCtx, cancel := context.WithTimeout(context.Background(), cfg.Scan.GetInterval())
		defer cancel()
		report, scanErr := directory.RescanAll(scanCtx)
		if scanErr != nil {
			log.Warn("periodic rescan failed", "error", scanErr)
			return
		}
		publishScan(bridge, influxClient, directory, report)
	})
	if err != nil {
		return fmt.Errorf("scheduling rescans: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Info("rescan scheduled", "interval", cfg.Scan.GetInterval())

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("Bulbgrid Core stopped")
	return nil
}

// buildTransportClient creates the relay client for one configured
// transport: HTTP endpoints get the stateless HTTP transport, serial
// and tcp URLs the line-protocol one.
func buildTransportClient(tc config.TransportConfig, defaults config.RelayConfig, log *logging.Logger) *relay.Client {
	name := tc.EffectiveName()
	queueCfg := relay.QueueConfig{
		MinInterval:    tc.GetMinCommandInterval(defaults),
		CommandTimeout: tc.GetCommandTimeout(defaults),
	}

	var transport relay.Transport
	if strings.HasPrefix(tc.Connection, "http://") || strings.HasPrefix(tc.Connection, "https://") {
		transport = relay.NewHTTPConn(name, tc.Connection, queueCfg.CommandTimeout)
	} else {
		conn := relay.NewConn(relay.Config{
			Name:           name,
			Connection:     tc.Connection,
			Baud:           tc.Baud,
			ConnectTimeout: defaults.GetConnectTimeout(),
			SettleDelay:    defaults.GetSettleDelay(),
			DrainTimeout:   defaults.GetDrainTimeout(),
			ReadTimeout:    defaults.GetReadTimeout(),
			CommandTimeout: queueCfg.CommandTimeout,
		})
		conn.SetLogger(log.Component("relay").With("transport", name))
		transport = conn
	}

	client := relay.NewClient(transport, queueCfg)
	client.SetLogger(log.Component("relay").With("transport", name))
	return client
}

// publishScan mirrors a rescan's outcome to MQTT and InfluxDB.
func publishScan(bridge *bulb.Bridge, influxClient *influxdb.Client, directory *bulb.Directory, report *bulb.ScanReport) {
	if bridge != nil {
		bridge.PublishScan(report)
	}
	if influxClient != nil {
		for _, snap := range directory.Snapshot() {
			influxClient.WriteScanMetric(snap.Name, len(snap.Bulbs), report.Duration, snap.Online)
			influxClient.WriteQueueDepth(snap.Name, snap.Pending)
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses BULBGRID_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BULBGRID_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the
// bridge's MQTTClient interface. The primary difference is the
// Subscribe handler signature: the infrastructure client's handlers
// return an error, the bridge's do not.
type mqttBridgeAdapter struct {
	client *mqtt.Client
	log    *logging.Logger
}

// Publish implements bulb.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bulb.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bulb.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
