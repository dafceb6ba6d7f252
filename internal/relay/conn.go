package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts for relay communication.
const (
	// defaultConnectTimeout is the maximum time to open the channel.
	defaultConnectTimeout = 10 * time.Second

	// defaultSettleDelay is how long to wait after opening before the
	// channel is used. The relay firmware may still be rebooting when
	// the port opens.
	defaultSettleDelay = 2 * time.Second

	// defaultDrainTimeout bounds one read in the drain loop.
	defaultDrainTimeout = 100 * time.Millisecond

	// defaultReadTimeout bounds one read attempt while waiting for a reply.
	defaultReadTimeout = 250 * time.Millisecond

	// defaultCommandTimeout is the overall budget for one exchange.
	defaultCommandTimeout = 10 * time.Second

	// maxLineBytes caps a single received line. An over-long line is
	// truncated, attempted as a parse fallback, and otherwise discarded
	// up to the next newline.
	maxLineBytes = 8 * 1024

	// maxReadAttempts bounds timed read attempts per command, alongside
	// the overall time budget. Whichever trips first ends the wait.
	maxReadAttempts = 100

	// maxDrainBytes stops the drain loop on a channel that never goes
	// quiet, so a chatty device cannot stall an exchange forever.
	maxDrainBytes = 64 * 1024

	// readChunkSize is the read buffer size for incoming bytes.
	readChunkSize = 256
)

// Config holds connection configuration for one relay transport.
type Config struct {
	// Name identifies the transport in logs, metrics and the directory.
	Name string

	// Connection is the channel URL.
	// Supported formats:
	//   - "serial:///dev/ttyUSB0" (optionally "?baud=9600")
	//   - "tcp://192.168.1.50:8888"
	Connection string

	// Baud is the serial baud rate. Default: 115200. Ignored for TCP.
	Baud int

	// ConnectTimeout is the maximum time to open the channel.
	ConnectTimeout time.Duration

	// SettleDelay is the post-open wait before first use.
	SettleDelay time.Duration

	// DrainTimeout bounds one read in the drain loop.
	DrainTimeout time.Duration

	// ReadTimeout bounds one read attempt while waiting for a reply.
	ReadTimeout time.Duration

	// CommandTimeout is the overall budget for one exchange.
	CommandTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats holds operational statistics for one transport.
type Stats struct {
	CommandsTx   uint64
	RepliesRx    uint64
	LinesSkipped uint64 // Noise lines discarded while scanning for a reply
	ErrorsTotal  uint64
	Reconnects   uint64
	Connected    bool
}

// Transport is the exchange contract shared by the line-protocol and
// HTTP transports. The command queue paces it; the device directory
// scans it.
type Transport interface {
	// Name returns the transport identity used in the directory binding.
	Name() string

	// Connect opens the channel if it is not already open. Idempotent.
	Connect(ctx context.Context) error

	// Exchange sends one command and returns the raw JSON reply frame.
	Exchange(ctx context.Context, path string) ([]byte, error)

	// Close releases the channel. Idempotent.
	Close() error
}

// Ensure Conn implements Transport.
var _ Transport = (*Conn)(nil)

// Conn provides command/response exchange over one noisy line-oriented
// channel (serial port or TCP socket).
//
// Thread Safety:
//   - All methods are safe for concurrent use. Exchanges are strictly
//     serialized internally; pacing between actuations is the command
//     queue's job, not Conn's.
//
// Failure semantics:
//   - An I/O failure (open, read, write, or a silent wire for the whole
//     budget) invalidates connection state; the next exchange reconnects.
//   - A reply that never parses within the budget (noise arrived, JSON
//     did not) leaves the connection open. See ErrNoReply.
type Conn struct {
	cfg Config

	// mu serializes connect/exchange/close. At most one command is on
	// the wire at any time.
	mu        sync.Mutex
	stream    Stream
	connected atomic.Bool

	// dial opens the underlying stream. Overridable in tests.
	dial func(Config) (Stream, error)

	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	commandsTx   atomic.Uint64
	repliesRx    atomic.Uint64
	linesSkipped atomic.Uint64
	errorsTotal  atomic.Uint64
	reconnects   atomic.Uint64
}

// NewConn creates a transport for the given channel. The channel is not
// opened until Connect or the first Exchange.
func NewConn(cfg Config) *Conn {
	cfg.applyDefaults()
	return &Conn{
		cfg: cfg,
		dial: func(c Config) (Stream, error) {
			return openStream(c.Connection, c.Baud, c.ConnectTimeout)
		},
		logger: noopLogger{},
	}
}

// Name returns the transport identity.
func (c *Conn) Name() string {
	return c.cfg.Name
}

// SetLogger sets an optional logger.
func (c *Conn) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

func (c *Conn) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Connect opens the channel if it is not already open.
//
// On success it waits the settle delay (the remote may still be
// rebooting), then drains any buffered boot noise before returning.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnected(ctx)
}

// ensureConnected opens the stream if needed. Caller must hold mu.
func (c *Conn) ensureConnected(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	wasEverUp := c.commandsTx.Load() > 0

	stream, err := c.dial(c.cfg)
	if err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Settle before first use.
	select {
	case <-time.After(c.cfg.SettleDelay):
	case <-ctx.Done():
		stream.Close()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}

	if err := c.drainStream(stream); err != nil {
		stream.Close()
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: drain: %w", ErrConnectionFailed, err)
	}

	c.stream = stream
	c.connected.Store(true)
	if wasEverUp {
		c.reconnects.Add(1)
	}
	c.log().Info("transport connected", "transport", c.cfg.Name, "connection", c.cfg.Connection)
	return nil
}

// drainStream discards buffered bytes until a bounded read comes back
// empty, leaving the channel quiet.
func (c *Conn) drainStream(stream Stream) error {
	if err := stream.SetReadTimeout(c.cfg.DrainTimeout); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}

	buf := make([]byte, readChunkSize)
	discarded := 0
	for {
		n, err := stream.Read(buf)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			break // quiet
		}
		discarded += n
		if discarded >= maxDrainBytes {
			c.log().Warn("drain cap reached, channel still chatty",
				"transport", c.cfg.Name, "bytes", discarded)
			break
		}
	}
	if discarded > 0 {
		c.log().Debug("drained stale bytes", "transport", c.cfg.Name, "bytes", discarded)
	}
	return nil
}

// Exchange sends one command line and extracts its JSON reply from the
// stream, skipping boot banners, debug prints and other noise.
//
// Two timeout layers apply: ReadTimeout bounds each read attempt, and
// CommandTimeout (further capped by the context deadline) bounds the
// total wait. The overall budget is authoritative.
//
// Parameters:
//   - ctx: Context for cancellation and deadline
//   - path: Endpoint path, sent as one line ("<path>\n")
//
// Returns:
//   - []byte: The raw JSON reply frame
//   - error: ErrConnectionFailed on I/O failure (forces reconnect on
//     next use), ErrNoReply when noise arrived but no JSON parsed
//     within the budget
func (c *Conn) Exchange(ctx context.Context, path string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	budget := c.cfg.CommandTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < budget {
			budget = rem
		}
	}
	deadline := time.Now().Add(budget)

	// Drop stale bytes from a previous, timed-out exchange.
	if err := c.drainStream(c.stream); err != nil {
		return nil, c.failConnection("drain", err)
	}

	if _, err := c.stream.Write(append([]byte(path), '\n')); err != nil {
		return nil, c.failConnection("write", err)
	}
	c.commandsTx.Add(1)
	c.log().Debug("command sent", "transport", c.cfg.Name, "path", path)

	reply, err := c.readReply(ctx, deadline)
	if err != nil {
		return nil, err
	}
	c.repliesRx.Add(1)
	return reply, nil
}

// readReply scans incoming bytes for one line that parses as JSON.
// Caller must hold mu.
func (c *Conn) readReply(ctx context.Context, deadline time.Time) ([]byte, error) {
	if err := c.stream.SetReadTimeout(c.cfg.ReadTimeout); err != nil {
		return nil, c.failConnection("set read timeout", err)
	}

	var (
		line       []byte
		buf        = make([]byte, readChunkSize)
		attempts   int
		gotData    bool
		discarding bool // Inside an over-long line, dropping until newline
	)

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNoReply, ctx.Err())
		default:
		}
		if time.Now().After(deadline) || attempts >= maxReadAttempts {
			if !gotData {
				// Silent wire for the whole budget: an I/O-level timeout.
				return nil, c.failConnection("reply",
					fmt.Errorf("no data within budget (%d attempts)", attempts))
			}
			c.errorsTotal.Add(1)
			return nil, fmt.Errorf("%w: no JSON line in %d attempts", ErrNoReply, attempts)
		}

		n, err := c.stream.Read(buf)
		if err != nil {
			return nil, c.failConnection("read", err)
		}
		attempts++
		if n == 0 {
			continue // Timed-out read, retry within budget
		}
		gotData = true

		for _, b := range buf[:n] {
			switch {
			case b == '\r':
				// Ignore carriage returns wherever they appear.
			case b == '\n':
				if discarding {
					discarding = false
					continue
				}
				if isJSONLine(line) {
					return line, nil
				}
				if len(line) > 0 {
					c.linesSkipped.Add(1)
					c.log().Debug("skipped non-JSON line",
						"transport", c.cfg.Name, "bytes", len(line))
					line = line[:0]
				}
			case discarding:
				// Dropping the tail of an over-long line.
			default:
				line = append(line, b)
				if len(line) >= maxLineBytes {
					// Over-long line: attempt the truncated prefix once,
					// then discard the remainder up to the next newline.
					if isJSONLine(line) {
						return line, nil
					}
					c.linesSkipped.Add(1)
					line = nil
					discarding = true
				}
			}
		}
	}
}

// failConnection invalidates connection state after an I/O failure.
// Caller must hold mu.
func (c *Conn) failConnection(op string, err error) error {
	c.errorsTotal.Add(1)
	c.closeLocked()
	c.log().Warn("transport fault", "transport", c.cfg.Name, "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, op, err)
}

// Close releases the channel. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Conn) closeLocked() error {
	if !c.connected.Load() {
		return nil
	}
	c.connected.Store(false)
	err := c.stream.Close()
	c.stream = nil
	return err
}

// IsConnected reports whether the channel is currently open.
func (c *Conn) IsConnected() bool {
	return c.connected.Load()
}

// Stats returns a snapshot of operational statistics.
func (c *Conn) Stats() Stats {
	return Stats{
		CommandsTx:   c.commandsTx.Load(),
		RepliesRx:    c.repliesRx.Load(),
		LinesSkipped: c.linesSkipped.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		Reconnects:   c.reconnects.Load(),
		Connected:    c.connected.Load(),
	}
}
