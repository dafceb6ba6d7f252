package bulb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bulbgrid/bulbgrid-core/internal/relay"
)

// Directory defaults.
const (
	// defaultScanAttempts is how many times a transport's listing query
	// is tried per rescan before the transport is marked unreachable.
	defaultScanAttempts = 2

	// defaultScanBackoff is the delay between listing attempts on one
	// transport.
	defaultScanBackoff = 500 * time.Millisecond

	// defaultScanParallelism bounds concurrent transport scans.
	defaultScanParallelism = 4
)

// Logger defines the logging interface used by the directory and
// dispatcher.
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

// DirectoryConfig holds scan behaviour for the directory.
type DirectoryConfig struct {
	// ScanAttempts is the bounded retry count per transport per rescan.
	// Default: 2.
	ScanAttempts int

	// RetryBackoff is the delay between attempts on one transport.
	// Default: 500ms.
	RetryBackoff time.Duration

	// Parallelism bounds concurrent transport scans. Default: 4.
	Parallelism int
}

func (c *DirectoryConfig) applyDefaults() {
	if c.ScanAttempts == 0 {
		c.ScanAttempts = defaultScanAttempts
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaultScanBackoff
	}
	if c.Parallelism == 0 {
		c.Parallelism = defaultScanParallelism
	}
}

// Directory keeps the authoritative bulb-name → transport binding
// fresh. The binding is rebuilt by RescanAll and fully replaced, never
// merged: a transport that fails a round contributes nothing, and its
// previously-held bulbs drop out of the mapping.
//
// Thread Safety:
//   - Lookup and Snapshot are cheap reads against the current binding.
//   - RescanAll is single-writer: concurrent rescans serialize, and a
//     concurrent Lookup sees either the old or the new binding, never a
//     partial one.
type Directory struct {
	cfg DirectoryConfig

	// mu guards transports, enabled, binding and status.
	mu         sync.RWMutex
	transports map[string]Client
	enabled    map[string]map[string]bool // transport -> enabled set; nil = all
	binding    map[string]binding
	status     map[string]*transportStatus

	// scanMu serializes rescans. The new binding is fully built before
	// mu is taken for the swap.
	scanMu sync.Mutex

	logger Logger
}

// NewDirectory creates an empty directory.
func NewDirectory(cfg DirectoryConfig) *Directory {
	cfg.applyDefaults()
	return &Directory{
		cfg:        cfg,
		transports: make(map[string]Client),
		enabled:    make(map[string]map[string]bool),
		binding:    make(map[string]binding),
		status:     make(map[string]*transportStatus),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the directory.
func (d *Directory) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.mu.Lock()
	d.logger = logger
	d.mu.Unlock()
}

func (d *Directory) log() Logger {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.logger
}

// AddTransport registers a transport with the directory. Its bulbs
// join the binding on the next rescan.
func (d *Directory) AddTransport(client Client) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := client.Name()
	if _, exists := d.transports[name]; exists {
		return fmt.Errorf("%w: %s", ErrTransportExists, name)
	}
	d.transports[name] = client
	d.status[name] = &transportStatus{}
	return nil
}

// RemoveTransport deregisters a transport, closes it (resolving its
// queued commands with a cancellation error) and drops its bindings.
// Other transports are unaffected.
func (d *Directory) RemoveTransport(name string) error {
	d.mu.Lock()
	client, exists := d.transports[name]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransportNotFound, name)
	}
	delete(d.transports, name)
	delete(d.status, name)
	delete(d.enabled, name)
	for bulbName, b := range d.binding {
		if b.transport == name {
			delete(d.binding, bulbName)
		}
	}
	d.mu.Unlock()

	return client.Close()
}

// SetEnabledBulbs replaces the enabled set for a transport. Bulbs not
// in the set are still bound and actuatable, but their disappearance is
// not reported. A transport with no recorded set has all bulbs enabled.
func (d *Directory) SetEnabledBulbs(transport string, names []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.transports[transport]; !exists {
		return fmt.Errorf("%w: %s", ErrTransportNotFound, transport)
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	d.enabled[transport] = set
	return nil
}

// IsBulbEnabled reports whether a bulb is in its transport's enabled
// set. Defaults to true when no set was recorded.
func (d *Directory) IsBulbEnabled(transport, name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set, ok := d.enabled[transport]
	if !ok {
		return true
	}
	return set[name]
}

// Lookup resolves a bulb name to its owning transport client. A pure
// read against the current binding snapshot.
func (d *Directory) Lookup(name string) (Client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.binding[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBulbNotFound, name)
	}
	client, ok := d.transports[b.transport]
	if !ok {
		// Transport removed since the last scan.
		return nil, fmt.Errorf("%w: %s", ErrBulbNotFound, name)
	}
	return client, nil
}

// scanResult is one transport's contribution to a rescan.
type scanResult struct {
	name  string
	bulbs []relay.BulbInfo
	err   error
}

// RescanAll queries every transport's unthrottled listing endpoint and
// atomically replaces the binding with the result. Transports are
// scanned in parallel, bounded by Parallelism, each with a bounded
// retry. A failed transport contributes zero bulbs; a scan failure on
// one transport never aborts the others.
//
// Returns:
//   - *ScanReport: What changed, including moved and vanished bulbs
//   - error: ErrNoTransports when nothing is registered; scan failures
//     themselves are reported per transport, not returned
func (d *Directory) RescanAll(ctx context.Context) (*ScanReport, error) {
	d.scanMu.Lock()
	defer d.scanMu.Unlock()

	started := time.Now()

	d.mu.RLock()
	clients := make([]Client, 0, len(d.transports))
	for _, c := range d.transports {
		clients = append(clients, c)
	}
	d.mu.RUnlock()

	if len(clients) == 0 {
		return nil, ErrNoTransports
	}

	results := make([]scanResult, len(clients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Parallelism)
	for i, client := range clients {
		i, client := i, client
		g.Go(func() error {
			results[i] = d.scanTransport(gctx, client)
			return nil // Failures live in the result, not the group
		})
	}
	g.Wait() //nolint:errcheck // Workers never return errors

	// Build the new binding completely before taking the write lock.
	newBinding := make(map[string]binding)
	online := 0
	for _, res := range results {
		if res.err != nil {
			d.log().Warn("transport scan failed", "transport", res.name, "error", res.err)
			continue
		}
		online++
		for _, info := range res.bulbs {
			if prev, dup := newBinding[info.Name]; dup {
				d.log().Warn("duplicate bulb name across transports",
					"bulb", info.Name, "kept", res.name, "dropped", prev.transport)
			}
			newBinding[info.Name] = binding{transport: res.name, info: info}
		}
	}

	report := &ScanReport{
		Scanned: len(clients),
		Online:  online,
		Bulbs:   len(newBinding),
	}

	d.mu.Lock()
	for name, old := range d.binding {
		neu, ok := newBinding[name]
		switch {
		case !ok:
			if d.enabledLocked(old.transport, name) {
				report.Vanished = append(report.Vanished, name)
			}
		case neu.transport != old.transport:
			report.Moved = append(report.Moved, MovedBulb{
				Name: name, From: old.transport, To: neu.transport,
			})
		}
	}
	d.binding = newBinding
	for _, res := range results {
		if st, ok := d.status[res.name]; ok {
			st.online = res.err == nil
			st.lastScan = time.Now()
			st.lastErr = res.err
			st.bulbs = res.bulbs
		}
	}
	d.mu.Unlock()

	report.Duration = time.Since(started)
	d.log().Info("rescan complete",
		"transports", report.Scanned,
		"online", report.Online,
		"bulbs", report.Bulbs,
		"moved", len(report.Moved),
		"vanished", len(report.Vanished),
		"duration", report.Duration)
	for _, m := range report.Moved {
		d.log().Info("bulb moved", "bulb", m.Name, "from", m.From, "to", m.To)
	}
	for _, name := range report.Vanished {
		d.log().Warn("bulb vanished", "bulb", name)
	}

	return report, nil
}

// enabledLocked is IsBulbEnabled for callers already holding mu.
func (d *Directory) enabledLocked(transport, name string) bool {
	set, ok := d.enabled[transport]
	if !ok {
		return true
	}
	return set[name]
}

// scanTransport connects if needed and issues the listing query, with
// bounded retry.
func (d *Directory) scanTransport(ctx context.Context, client Client) scanResult {
	res := scanResult{name: client.Name()}

	for attempt := 1; attempt <= d.cfg.ScanAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(d.cfg.RetryBackoff):
			case <-ctx.Done():
				res.err = ctx.Err()
				return res
			}
		}

		if err := client.Connect(ctx); err != nil {
			res.err = err
			continue
		}
		reply, err := client.ListBulbs(ctx)
		if err != nil {
			res.err = err
			continue
		}
		res.bulbs = reply.Bulbs
		res.err = nil
		return res
	}
	return res
}

// Snapshot returns the externally visible state of every transport.
func (d *Directory) Snapshot() []TransportSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snaps := make([]TransportSnapshot, 0, len(d.transports))
	for name, client := range d.transports {
		snap := TransportSnapshot{
			Name:    name,
			Pending: client.PendingCount(),
		}
		if st, ok := d.status[name]; ok {
			snap.Online = st.online
			snap.LastScan = st.lastScan
			snap.Bulbs = append([]relay.BulbInfo(nil), st.bulbs...)
			if st.lastErr != nil {
				snap.LastErr = st.lastErr.Error()
			}
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// Transports returns the names of all registered transports.
func (d *Directory) Transports() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.transports))
	for name := range d.transports {
		names = append(names, name)
	}
	return names
}

// Close closes every transport. Used at shutdown.
func (d *Directory) Close() error {
	d.mu.Lock()
	clients := make([]Client, 0, len(d.transports))
	for _, c := range d.transports {
		clients = append(clients, c)
	}
	d.transports = make(map[string]Client)
	d.binding = make(map[string]binding)
	d.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
