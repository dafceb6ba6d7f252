package relay

import (
	"context"
	"fmt"
)

// Client binds one transport to its command queue and exposes the two
// kinds of traffic the relay protocol distinguishes: paced actuations
// through the queue, and unthrottled listing reads straight against the
// transport. Both share the transport's internal exchange exclusivity,
// so a list query never interleaves bytes with an in-flight command.
type Client struct {
	transport Transport
	queue     *Queue
}

// NewClient creates a client and starts its queue.
func NewClient(transport Transport, cfg QueueConfig) *Client {
	return &Client{
		transport: transport,
		queue:     NewQueue(transport, cfg),
	}
}

// Name returns the transport identity.
func (c *Client) Name() string {
	return c.transport.Name()
}

// Transport returns the underlying transport.
func (c *Client) Transport() Transport {
	return c.transport
}

// SetLogger sets an optional logger on the queue. Transports carry
// their own loggers.
func (c *Client) SetLogger(logger Logger) {
	c.queue.SetLogger(logger)
}

// Do enqueues an actuation and waits for its outcome.
//
// The completion handle always settles within the queue's command
// timeout plus the pacing interval, so the ctx here guards the caller's
// patience, not the exchange itself: abandoning the wait does not
// cancel the command once queued.
//
// Returns:
//   - *ActionReply: The parsed reply, also when Success=false
//   - error: ErrCommandFailed (with reply) when the relay reports
//     success=false; queue or transport errors otherwise
func (c *Client) Do(ctx context.Context, bulb string, cmd Command) (*ActionReply, error) {
	done := c.queue.Enqueue(cmd.Path(bulb))

	var result Result
	select {
	case result = <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("relay: await %s %s: %w", cmd.Action(), bulb, ctx.Err())
	}
	if result.Err != nil {
		return nil, result.Err
	}

	reply, err := ParseActionReply(result.Data)
	if err != nil {
		return nil, err
	}
	if !reply.Success {
		if reply.Error != "" {
			return reply, fmt.Errorf("%w: %s %s: %s", ErrCommandFailed, cmd.Action(), bulb, reply.Error)
		}
		return reply, fmt.Errorf("%w: %s %s", ErrCommandFailed, cmd.Action(), bulb)
	}
	return reply, nil
}

// ListBulbs issues the unthrottled listing query. It bypasses queue
// pacing (a read, not an actuation) but still serializes with in-flight
// commands on the wire.
func (c *Client) ListBulbs(ctx context.Context) (*ListReply, error) {
	data, err := c.transport.Exchange(ctx, ListPath)
	if err != nil {
		return nil, err
	}
	return ParseListReply(data)
}

// Ping verifies the relay is reachable and answering queries.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListBulbs(ctx)
	return err
}

// PendingCount returns the actuation backlog depth.
func (c *Client) PendingCount() int {
	return c.queue.PendingCount()
}

// Connect opens the underlying transport if it is not already open.
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Close stops the queue, resolving all queued commands with
// ErrQueueStopped, then closes the transport. Idempotent.
func (c *Client) Close() error {
	c.queue.Stop()
	return c.transport.Close()
}
