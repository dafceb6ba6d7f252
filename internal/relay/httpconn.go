package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// maxReplyBody caps an HTTP reply body. Relay replies are one JSON
// document; anything larger is a fault.
const maxReplyBody = 1 << 20

// Ensure HTTPConn implements Transport.
var _ Transport = (*HTTPConn)(nil)

// HTTPConn is the HTTP variant of the relay transport. The exchange
// contract is the same as Conn's, without framing concerns: one GET per
// command, one JSON body per reply. It is dispatched through the same
// Queue and scanned by the same Directory.
type HTTPConn struct {
	name    string
	baseURL string
	client  *http.Client

	commandsTx  atomic.Uint64
	repliesRx   atomic.Uint64
	errorsTotal atomic.Uint64
}

// NewHTTPConn creates an HTTP transport for the given base URL
// ("http://192.168.1.50:8080"). Timeout bounds each exchange end to
// end; zero applies the package default.
func NewHTTPConn(name, baseURL string, timeout time.Duration) *HTTPConn {
	if timeout == 0 {
		timeout = defaultCommandTimeout
	}
	return &HTTPConn{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the transport identity.
func (c *HTTPConn) Name() string {
	return c.name
}

// Connect verifies the endpoint is reachable with an unthrottled
// listing query. HTTP has no persistent channel to hold open, so this
// is a health probe, not a session.
func (c *HTTPConn) Connect(ctx context.Context) error {
	if _, err := c.Exchange(ctx, ListPath); err != nil {
		return err
	}
	return nil
}

// Exchange issues one GET and returns the JSON reply body.
// A transport-level failure or a non-200 status maps to
// ErrConnectionFailed, matching the line-protocol taxonomy.
func (c *HTTPConn) Exchange(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: build request: %w", ErrConnectionFailed, err)
	}

	c.commandsTx.Add(1)
	resp, err := c.client.Do(req)
	if err != nil {
		c.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: status %d", ErrConnectionFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBody))
	if err != nil {
		c.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: read body: %w", ErrConnectionFailed, err)
	}
	body = bytes.TrimSpace(body)
	if !isJSONLine(body) {
		c.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: body is not JSON", ErrNoReply)
	}

	c.repliesRx.Add(1)
	return body, nil
}

// Close releases idle connections. Idempotent.
func (c *HTTPConn) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// Stats returns a snapshot of operational statistics.
func (c *HTTPConn) Stats() Stats {
	return Stats{
		CommandsTx:  c.commandsTx.Load(),
		RepliesRx:   c.repliesRx.Load(),
		ErrorsTotal: c.errorsTotal.Load(),
		Connected:   true, // Stateless; reachability is probed per exchange
	}
}
