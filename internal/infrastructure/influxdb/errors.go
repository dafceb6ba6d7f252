package influxdb

import "errors"

// Sentinel errors for InfluxDB operations; match with errors.Is.
var (
	// ErrNotConnected indicates the client is not connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates the integration is turned off in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
