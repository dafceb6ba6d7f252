package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCommandMetric records one dispatched relay command.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - transport: Transport name the command was dispatched on
//   - bulb: Target bulb name
//   - action: Action identifier (on, off, brightness, rgb, temperature, ...)
//   - latency: Round-trip time of the exchange
//   - success: Whether the relay reported success
//
// Example:
//
//	client.WriteCommandMetric("relay-garage", "lamp", "on", 120*time.Millisecond, true)
func (c *Client) WriteCommandMetric(transport, bulb, action string, latency time.Duration, success bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"relay_commands",
		map[string]string{
			"transport": transport,
			"bulb":      bulb,
			"action":    action,
		},
		map[string]interface{}{
			"latency_ms": float64(latency.Milliseconds()),
			"success":    success,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteScanMetric records the outcome of one transport scan.
//
// Parameters:
//   - transport: Transport name that was scanned
//   - bulbs: Number of bulbs the transport reported (0 on failure)
//   - duration: Time taken by the scan including retries
//   - ok: Whether the transport was reachable
func (c *Client) WriteScanMetric(transport string, bulbs int, duration time.Duration, ok bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"directory_scans",
		map[string]string{
			"transport": transport,
		},
		map[string]interface{}{
			"bulbs":       bulbs,
			"duration_ms": float64(duration.Milliseconds()),
			"ok":          ok,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteQueueDepth records the backlog depth of one transport's command queue.
//
// Useful for spotting transports whose pacing delay is starving callers.
func (c *Client) WriteQueueDepth(transport string, depth int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"queue_depth",
		map[string]string{
			"transport": transport,
		},
		map[string]interface{}{
			"depth": depth,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
