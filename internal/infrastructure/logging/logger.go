package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bulbgrid/bulbgrid-core/internal/infrastructure/config"
)

// serviceName is attached to every log record so aggregated logs from
// multiple services on the same host stay attributable.
const serviceName = "bulbgrid"

// Logger wraps slog.Logger. The relay and bulb packages declare their
// own narrow logging interfaces; the embedded slog methods satisfy
// them directly, so a *Logger can be handed to any subsystem.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from the logging section of config.yaml.
//
// Format "text" produces human-readable output for development;
// anything else selects JSON. Output "stderr" writes to stderr;
// anything else writes to stdout. Unrecognised levels fall back to
// info rather than failing startup.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version, attached to every record
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a logger scoped to one subsystem. Every record it
// emits carries component=name, which is how bulbgrid logs are filtered
// in practice (component=relay, component=directory, ...).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default creates a logger for use before configuration is loaded:
// JSON to stdout at info level. Only startup code should need it.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
