package bulb

import (
	"context"
	"time"

	"github.com/bulbgrid/bulbgrid-core/internal/relay"
)

// Client is the per-transport surface the directory and dispatcher
// need. Satisfied by *relay.Client.
type Client interface {
	// Name returns the transport identity.
	Name() string

	// Connect opens the transport if it is not already open.
	Connect(ctx context.Context) error

	// Do enqueues one paced actuation and waits for its outcome.
	Do(ctx context.Context, bulb string, cmd relay.Command) (*relay.ActionReply, error)

	// ListBulbs issues the unthrottled listing query.
	ListBulbs(ctx context.Context) (*relay.ListReply, error)

	// PendingCount returns the actuation backlog depth.
	PendingCount() int

	// Close stops the transport's queue and releases the channel.
	Close() error
}

// binding is one bulb's current home.
type binding struct {
	transport string
	info      relay.BulbInfo
}

// transportStatus is the directory's view of one transport's last scan.
type transportStatus struct {
	online   bool
	lastScan time.Time
	lastErr  error
	bulbs    []relay.BulbInfo
}

// MovedBulb records a bulb that changed transports between two scans.
type MovedBulb struct {
	Name string
	From string
	To   string
}

// ScanReport summarizes one full rescan.
type ScanReport struct {
	// Scanned and Online count transports.
	Scanned int
	Online  int

	// Bulbs is the total number of bulbs in the new binding.
	Bulbs int

	// Moved lists bulbs that changed transports this round.
	Moved []MovedBulb

	// Vanished lists previously-bound, enabled bulbs that no scan
	// returned this round.
	Vanished []string

	Duration time.Duration
}

// TransportSnapshot is the externally visible state of one transport,
// for the entity layer and MQTT publishing.
type TransportSnapshot struct {
	Name     string
	Online   bool
	LastScan time.Time
	LastErr  string
	Pending  int
	Bulbs    []relay.BulbInfo
}

// BulbAvailable reports whether a bulb in a snapshot should be treated
// as available: its transport must be online and the relay must report
// it connected.
func (s TransportSnapshot) BulbAvailable(name string) bool {
	if !s.Online {
		return false
	}
	for _, b := range s.Bulbs {
		if b.Name == name {
			return b.Connected
		}
	}
	return false
}
