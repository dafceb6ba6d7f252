package bulb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bulbgrid/bulbgrid-core/internal/relay"
)

// CommandRecord is one dispatched actuation for the audit trail.
type CommandRecord struct {
	ID        int64
	Bulb      string
	Transport string
	Action    string
	Success   bool
	Error     string
	Latency   time.Duration
	CreatedAt time.Time
}

// CommandLog persists dispatched actuations. Satisfied by
// *SQLiteCommandLog; optional on the dispatcher.
type CommandLog interface {
	Record(ctx context.Context, rec CommandRecord) error
}

// MetricsRecorder receives per-command telemetry. Satisfied by
// *influxdb.Client; optional on the dispatcher.
type MetricsRecorder interface {
	WriteCommandMetric(transport, bulb, action string, latency time.Duration, success bool)
}

// Dispatcher is the single entry point for bulb actuation.
//
// Per call it performs at most one rescan and one retry:
//   - Unresolved name: one rescan, one re-lookup; still unresolved is
//     terminal ErrBulbNotFound.
//   - Resolved but the exchange fails with a connectivity or command
//     error: one rescan, one re-lookup, one retry; whatever the retry
//     produces is the answer.
//
// The bound keeps a permanently removed bulb from triggering retry
// storms: exactly two lookups, one rescan, then ErrBulbNotFound.
type Dispatcher struct {
	directory *Directory
	log       CommandLog      // Optional audit trail
	metrics   MetricsRecorder // Optional telemetry
	logger    Logger
}

// NewDispatcher creates a dispatcher over the given directory.
func NewDispatcher(directory *Directory) *Dispatcher {
	return &Dispatcher{
		directory: directory,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (dp *Dispatcher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	dp.logger = logger
}

// SetCommandLog attaches an audit trail for dispatched commands.
func (dp *Dispatcher) SetCommandLog(log CommandLog) {
	dp.log = log
}

// SetMetrics attaches a telemetry sink for dispatched commands.
func (dp *Dispatcher) SetMetrics(metrics MetricsRecorder) {
	dp.metrics = metrics
}

// Send actuates a bulb by name.
//
// Parameters:
//   - ctx: Context for cancellation; also bounds the rescan
//   - name: Bulb name as reported by the relay's listing
//   - cmd: The operation to perform
//
// Returns:
//   - *relay.ActionReply: The relay's reply, when one was parsed
//   - error: ErrBulbNotFound (terminal) when the name resolves to no
//     transport even after a rescan; otherwise the final attempt's error
func (dp *Dispatcher) Send(ctx context.Context, name string, cmd relay.Command) (*relay.ActionReply, error) {
	client, err := dp.directory.Lookup(name)
	if err != nil {
		// Unknown bulb: the one rescan this call gets.
		dp.rescan(ctx, "lookup miss", name)
		if client, err = dp.directory.Lookup(name); err != nil {
			return nil, err
		}
		return dp.execute(ctx, client, name, cmd)
	}

	reply, err := dp.execute(ctx, client, name, cmd)
	if err == nil || !isRetryable(err) {
		return reply, err
	}

	// Connectivity or command failure: one rescan, one retry. The bulb
	// may have moved to another transport since the last scan.
	dp.rescan(ctx, "command failure", name)
	client, lookupErr := dp.directory.Lookup(name)
	if lookupErr != nil {
		return nil, lookupErr
	}
	return dp.execute(ctx, client, name, cmd)
}

// rescan triggers one directory rescan, logging rather than failing the
// dispatch when the scan itself errors: the re-lookup decides.
func (dp *Dispatcher) rescan(ctx context.Context, reason, name string) {
	if _, err := dp.directory.RescanAll(ctx); err != nil {
		dp.logger.Warn("rescan failed", "reason", reason, "bulb", name, "error", err)
	}
}

// execute runs one actuation attempt and records its outcome.
func (dp *Dispatcher) execute(ctx context.Context, client Client, name string, cmd relay.Command) (*relay.ActionReply, error) {
	started := time.Now()
	reply, err := client.Do(ctx, name, cmd)
	latency := time.Since(started)

	rec := CommandRecord{
		Bulb:      name,
		Transport: client.Name(),
		Action:    cmd.Action(),
		Success:   err == nil,
		Latency:   latency,
	}
	if err != nil {
		rec.Error = err.Error()
		dp.logger.Warn("command failed",
			"bulb", name, "transport", client.Name(), "action", cmd.Action(),
			"latency", latency, "error", err)
	} else {
		dp.logger.Debug("command ok",
			"bulb", name, "transport", client.Name(), "action", cmd.Action(),
			"latency", latency)
	}

	if dp.log != nil {
		if logErr := dp.log.Record(ctx, rec); logErr != nil {
			dp.logger.Warn("command log write failed", "error", logErr)
		}
	}
	if dp.metrics != nil {
		dp.metrics.WriteCommandMetric(client.Name(), name, cmd.Action(), latency, err == nil)
	}

	if err != nil {
		return reply, fmt.Errorf("dispatch %s %s: %w", cmd.Action(), name, err)
	}
	return reply, nil
}

// isRetryable reports whether a failure warrants the dispatcher's
// single rescan-and-retry. Input validation cannot fail (arguments are
// clamped), so the retryable set is connectivity and command-level
// failures; context cancellation is not retried.
func isRetryable(err error) bool {
	return errors.Is(err, relay.ErrConnectionFailed) ||
		errors.Is(err, relay.ErrNoReply) ||
		errors.Is(err, relay.ErrCommandFailed) ||
		errors.Is(err, relay.ErrQueueStopped) ||
		errors.Is(err, relay.ErrQueueFull)
}
