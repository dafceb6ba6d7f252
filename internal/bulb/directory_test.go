package bulb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bulbgrid/bulbgrid-core/internal/relay"
)

// fakeClient scripts one transport for directory and dispatcher tests.
type fakeClient struct {
	mu         sync.Mutex
	name       string
	bulbs      []relay.BulbInfo
	listErr    error
	listCalls  int
	connectErr error
	doReply    *relay.ActionReply
	doErr      error
	doErrOnce  error    // Consumed by the first Do call only
	doCalls    []string // "<bulb>:<action>"
	pending    int
	closed     bool

	// failFirstN makes the first N listing calls fail, then succeed.
	failFirstN int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeClient) ListBulbs(context.Context) (*relay.ListReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.failFirstN > 0 {
		f.failFirstN--
		return nil, fmt.Errorf("%w: scripted", relay.ErrConnectionFailed)
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &relay.ListReply{Bulbs: f.bulbs, Count: len(f.bulbs)}, nil
}

func (f *fakeClient) Do(_ context.Context, bulb string, cmd relay.Command) (*relay.ActionReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doCalls = append(f.doCalls, bulb+":"+cmd.Action())
	if f.doErrOnce != nil {
		err := f.doErrOnce
		f.doErrOnce = nil
		return nil, err
	}
	return f.doReply, f.doErr
}

func (f *fakeClient) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func bulbInfo(id int, name string) relay.BulbInfo {
	return relay.BulbInfo{ID: id, Name: name, Address: fmt.Sprintf("aa:bb:%02d", id), Connected: true}
}

func fastScanConfig() DirectoryConfig {
	return DirectoryConfig{ScanAttempts: 2, RetryBackoff: time.Millisecond, Parallelism: 4}
}

func TestDirectory_RescanBuildsBinding(t *testing.T) {
	dir := NewDirectory(fastScanConfig())
	a := &fakeClient{name: "relay-a", bulbs: []relay.BulbInfo{bulbInfo(0, "lamp"), bulbInfo(1, "strip")}}
	b := &fakeClient{name: "relay-b", bulbs: []relay.BulbInfo{bulbInfo(0, "porch")}}
	for _, c := range []*fakeClient{a, b} {
		if err := dir.AddTransport(c); err != nil {
			t.Fatalf("AddTransport(%s) error = %v", c.name, err)
		}
	}

	report, err := dir.RescanAll(context.Background())
	if err != nil {
		t.Fatalf("RescanAll() error = %v", err)
	}
	if report.Scanned != 2 || report.Online != 2 || report.Bulbs != 3 {
		t.Errorf("report = %+v, want 2 scanned, 2 online, 3 bulbs", report)
	}

	client, err := dir.Lookup("porch")
	if err != nil {
		t.Fatalf("Lookup(porch) error = %v", err)
	}
	if client.Name() != "relay-b" {
		t.Errorf("porch bound to %s, want relay-b", client.Name())
	}
}

func TestDirectory_LookupUnknown(t *testing.T) {
	dir := NewDirectory(fastScanConfig())
	if _, err := dir.Lookup("ghost"); !errors.Is(err, ErrBulbNotFound) {
		t.Errorf("Lookup(ghost) error = %v, want ErrBulbNotFound", err)
	}
}

func TestDirectory_RescanNoTransports(t *testing.T) {
	dir := NewDirectory(fastScanConfig())
	if _, err := dir.RescanAll(context.Background()); !errors.Is(err, ErrNoTransports) {
		t.Errorf("RescanAll() error = %v, want ErrNoTransports", err)
	}
}

func TestDirectory_FailedTransportContributesNothing(t *testing.T) {
	dir := NewDirectory(fastScanConfig())
	a := &fakeClient{name: "relay-a", bulbs: []relay.BulbInfo{bulbInfo(0, "lamp")}}
	b := &fakeClient{name: "relay-b", bulbs: []relay.BulbInfo{bulbInfo(0, "porch")}}
	dir.AddTransport(a)
	dir.AddTransport(b)

	if _, err := dir.RescanAll(context.Background()); err != nil {
		t.Fatalf("RescanAll() error = %v", err)
	}

	// relay-b fails the next round: its bulbs must drop out entirely,
	// with no carry-over from the previous binding.
	b.mu.Lock()
	b.listErr = fmt.Errorf("%w: wire cut", relay.ErrConnectionFailed)
	b.mu.Unlock()

	report, err := dir.RescanAll(context.Background())
	if err != nil {
		t.Fatalf("RescanAll() error = %v", err)
	}
	if report.Online != 1 || report.Bulbs != 1 {
		t.Errorf("report = %+v, want 1 online, 1 bulb", report)
	}
	if _, err := dir.Lookup("porch"); !errors.Is(err, ErrBulbNotFound) {
		t.Errorf("Lookup(porch) error = %v, want ErrBulbNotFound after failed scan", err)
	}
	if len(report.Vanished) != 1 || report.Vanished[0] != "porch" {
		t.Errorf("Vanished = %v, want [porch]", report.Vanished)
	}
	if _, err := dir.Lookup("lamp"); err != nil {
		t.Errorf("Lookup(lamp) error = %v, other transports must be unaffected", err)
	}
}

func TestDirectory_ScanRetriesBounded(t *testing.T) {
	dir := NewDirectory(DirectoryConfig{ScanAttempts: 3, RetryBackoff: time.Millisecond, Parallelism: 1})
	flaky := &fakeClient{name: "relay-a", bulbs: []relay.BulbInfo{bulbInfo(0, "lamp")}, failFirstN: 2}
	dir.AddTransport(flaky)

	report, err := dir.RescanAll(context.Background())
	if err != nil {
		t.Fatalf("RescanAll() error = %v", err)
	}
	if report.Online != 1 {
		t.Errorf("Online = %d, want 1 (third attempt succeeds)", report.Online)
	}
	if got := flaky.listCount(); got != 3 {
		t.Errorf("list calls = %d, want 3", got)
	}
}

func TestDirectory_ScanRetriesExhausted(t *testing.T) {
	dir := NewDirectory(DirectoryConfig{ScanAttempts: 2, RetryBackoff: time.Millisecond, Parallelism: 1})
	down := &fakeClient{name: "relay-a", failFirstN: 100}
	dir.AddTransport(down)

	report, err := dir.RescanAll(context.Background())
	if err != nil {
		t.Fatalf("RescanAll() error = %v", err)
	}
	if report.Online != 0 {
		t.Errorf("Online = %d, want 0", report.Online)
	}
	if got := down.listCount(); got != 2 {
		t.Errorf("list calls = %d, want exactly 2 (bounded retry)", got)
	}
}

func TestDirectory_ReportsMovedBulbs(t *testing.T) {
	dir := NewDirectory(fastScanConfig())
	a := &fakeClient{name: "relay-a", bulbs: []relay.BulbInfo{bulbInfo(0, "lamp")}}
	b := &fakeClient{name: "relay-b"}
	dir.AddTransport(a)
	dir.AddTransport(b)

	if _, err := dir.RescanAll(context.Background()); err != nil {
		t.Fatalf("RescanAll() error = %v", err)
	}

	// lamp reappears under relay-b.
	a.mu.Lock()
	a.bulbs = nil
	a.mu.Unlock()
	b.mu.Lock()
	b.bulbs = []relay.BulbInfo{bulbInfo(0, "lamp")}
	b.mu.Unlock()

	report, err := dir.RescanAll(context.Background())
	if err != nil {
		t.Fatalf("RescanAll() error = %v", err)
	}
	if len(report.Moved) != 1 {
		t.Fatalf("Moved = %v, want one entry", report.Moved)
	}
	m := report.Moved[0]
	if m.Name != "lamp" || m.From != "relay-a" || m.To != "relay-b" {
		t.Errorf("Moved[0] = %+v, want lamp relay-a -> relay-b", m)
	}

	client, err := dir.Lookup("lamp")
	if err != nil {
		t.Fatalf("Lookup(lamp) error = %v", err)
	}
	if client.Name() != "relay-b" {
		t.Errorf("lamp bound to %s, want relay-b", client.Name())
	}
}

func TestDirectory_VanishedRespectsEnabledSet(t *testing.T) {
	dir := NewDirectory(fastScanConfig())
	a := &fakeClient{name: "relay-a", bulbs: []relay.BulbInfo{bulbInfo(0, "lamp"), bulbInfo(1, "strip")}}
	dir.AddTransport(a)

	if _, err := dir.RescanAll(context.Background()); err != nil {
		t.Fatalf("RescanAll() error = %v", err)
	}
	if err := dir.SetEnabledBulbs("relay-a", []string{"lamp"}); err != nil {
		t.Fatalf("SetEnabledBulbs() error = %v", err)
	}

	a.mu.Lock()
	a.bulbs = nil
	a.mu.Unlock()

	report, err := dir.RescanAll(context.Background())
	if err != nil {
		t.Fatalf("RescanAll() error = %v", err)
	}
	// Both bulbs disappeared, but only the enabled one is reported.
	if len(report.Vanished) != 1 || report.Vanished[0] != "lamp" {
		t.Errorf("Vanished = %v, want [lamp]", report.Vanished)
	}
}

func TestDirectory_AtomicSwapUnderConcurrentLookups(t *testing.T) {
	dir := NewDirectory(fastScanConfig())
	a := &fakeClient{name: "relay-a", bulbs: []relay.BulbInfo{bulbInfo(0, "lamp"), bulbInfo(1, "strip")}}
	dir.AddTransport(a)
	if _, err := dir.RescanAll(context.Background()); err != nil {
		t.Fatalf("RescanAll() error = %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Both bulbs live on the same transport: any consistent binding
		// resolves them identically. A torn mapping would not.
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, errLamp := dir.Lookup("lamp")
			_, errStrip := dir.Lookup("strip")
			if (errLamp == nil) != (errStrip == nil) {
				t.Error("observed partially-built binding")
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		if _, err := dir.RescanAll(context.Background()); err != nil {
			t.Fatalf("RescanAll() error = %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestDirectory_AddRemoveTransport(t *testing.T) {
	dir := NewDirectory(fastScanConfig())
	a := &fakeClient{name: "relay-a", bulbs: []relay.BulbInfo{bulbInfo(0, "lamp")}}

	if err := dir.AddTransport(a); err != nil {
		t.Fatalf("AddTransport() error = %v", err)
	}
	if err := dir.AddTransport(&fakeClient{name: "relay-a"}); !errors.Is(err, ErrTransportExists) {
		t.Errorf("duplicate AddTransport() error = %v, want ErrTransportExists", err)
	}

	if _, err := dir.RescanAll(context.Background()); err != nil {
		t.Fatalf("RescanAll() error = %v", err)
	}
	if err := dir.RemoveTransport("relay-a"); err != nil {
		t.Fatalf("RemoveTransport() error = %v", err)
	}
	if !a.closed {
		t.Error("removed transport was not closed")
	}
	if _, err := dir.Lookup("lamp"); !errors.Is(err, ErrBulbNotFound) {
		t.Errorf("Lookup(lamp) error = %v, want ErrBulbNotFound after removal", err)
	}
	if err := dir.RemoveTransport("relay-a"); !errors.Is(err, ErrTransportNotFound) {
		t.Errorf("second RemoveTransport() error = %v, want ErrTransportNotFound", err)
	}
}

func TestDirectory_Snapshot(t *testing.T) {
	dir := NewDirectory(fastScanConfig())
	a := &fakeClient{name: "relay-a", bulbs: []relay.BulbInfo{bulbInfo(0, "lamp")}, pending: 2}
	down := &fakeClient{name: "relay-b", failFirstN: 100}
	dir.AddTransport(a)
	dir.AddTransport(down)

	if _, err := dir.RescanAll(context.Background()); err != nil {
		t.Fatalf("RescanAll() error = %v", err)
	}

	snaps := dir.Snapshot()
	if len(snaps) != 2 {
		t.Fatalf("Snapshot() returned %d entries, want 2", len(snaps))
	}
	byName := make(map[string]TransportSnapshot, len(snaps))
	for _, s := range snaps {
		byName[s.Name] = s
	}

	online := byName["relay-a"]
	if !online.Online || online.Pending != 2 || len(online.Bulbs) != 1 {
		t.Errorf("relay-a snapshot = %+v, want online, 2 pending, 1 bulb", online)
	}
	if !online.BulbAvailable("lamp") {
		t.Error("BulbAvailable(lamp) = false on an online transport with connected bulb")
	}
	if online.BulbAvailable("ghost") {
		t.Error("BulbAvailable(ghost) = true, want false for unknown bulb")
	}

	offline := byName["relay-b"]
	if offline.Online || offline.LastErr == "" {
		t.Errorf("relay-b snapshot = %+v, want offline with error", offline)
	}
	if offline.BulbAvailable("lamp") {
		t.Error("BulbAvailable() = true on an offline transport")
	}
}

func TestDirectory_IsBulbEnabledDefaultsTrue(t *testing.T) {
	dir := NewDirectory(fastScanConfig())
	dir.AddTransport(&fakeClient{name: "relay-a"})

	if !dir.IsBulbEnabled("relay-a", "anything") {
		t.Error("IsBulbEnabled() = false with no recorded set, want true")
	}
	if err := dir.SetEnabledBulbs("relay-a", []string{"lamp"}); err != nil {
		t.Fatalf("SetEnabledBulbs() error = %v", err)
	}
	if !dir.IsBulbEnabled("relay-a", "lamp") {
		t.Error("IsBulbEnabled(lamp) = false, want true")
	}
	if dir.IsBulbEnabled("relay-a", "strip") {
		t.Error("IsBulbEnabled(strip) = true, want false outside the set")
	}
	if err := dir.SetEnabledBulbs("relay-x", nil); !errors.Is(err, ErrTransportNotFound) {
		t.Errorf("SetEnabledBulbs(relay-x) error = %v, want ErrTransportNotFound", err)
	}
}
