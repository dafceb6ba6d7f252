// Package influxdb provides InfluxDB connectivity for Bulbgrid Core.
//
// It wraps the official influxdb-client-go v2 library with Bulbgrid-specific
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Per-command relay latency and success/failure outcomes
//   - Directory scan durations and bulb counts
//   - Command queue depth sampling
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "bulbgrid",
//	    Bucket: "metrics",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Record a dispatched command
//	client.WriteCommandMetric("relay-garage", "lamp", "on", latency, true)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
package influxdb
