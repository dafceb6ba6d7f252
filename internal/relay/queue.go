package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Queue defaults.
const (
	// defaultMinInterval is the pacing floor between dispatch starts on
	// one transport. The relay firmware drops commands sent faster.
	defaultMinInterval = 500 * time.Millisecond

	// queueCapacity is the command backlog limit per transport.
	queueCapacity = 256
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Result is the outcome delivered on a command's completion handle.
// Exactly one Result is sent per enqueued command.
type Result struct {
	// Data is the raw JSON reply frame on success.
	Data []byte

	// Err is the failure, if any. ErrQueueStopped means the queue was
	// stopped before or during dispatch.
	Err error
}

// QueueConfig holds pacing configuration for one transport's queue.
type QueueConfig struct {
	// MinInterval is the minimum delay between dispatch starts.
	// Default: 500ms.
	MinInterval time.Duration

	// CommandTimeout is the overall budget applied to each dispatched
	// exchange. Default: 10 seconds.
	CommandTimeout time.Duration
}

type queuedCommand struct {
	path       string
	done       chan Result // Buffered, capacity 1
	enqueuedAt time.Time
}

// Queue paces and serializes one transport's outgoing commands.
//
// A single worker pulls commands in FIFO order, waits out the remainder
// of the minimum inter-dispatch interval, invokes the transport
// exchange, and resolves the command's completion handle with the
// outcome. At most one command is in flight per transport; list/status
// queries bypass the queue entirely because they are idempotent reads.
//
// Thread Safety: all methods are safe for concurrent use.
type Queue struct {
	transport Transport
	cfg       QueueConfig

	mu      sync.Mutex
	stopped bool
	queue   chan *queuedCommand

	done *closeOnce
	wg   sync.WaitGroup

	pendingCount atomic.Int64
	dispatched   atomic.Uint64

	logger Logger
}

// NewQueue creates and starts a queue for the given transport.
func NewQueue(transport Transport, cfg QueueConfig) *Queue {
	if cfg.MinInterval == 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}

	q := &Queue{
		transport: transport,
		cfg:       cfg,
		queue:     make(chan *queuedCommand, queueCapacity),
		done:      newCloseOnce(),
		logger:    noopLogger{},
	}

	q.wg.Add(1)
	go q.worker()

	return q
}

// SetLogger sets an optional logger.
func (q *Queue) SetLogger(logger Logger) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	q.logger = logger
}

func (q *Queue) log() Logger {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.logger
}

// Enqueue adds a command to the backlog and returns its completion
// handle. The handle always receives exactly one Result: the exchange
// outcome, ErrQueueStopped if the queue stops first, or ErrQueueFull
// immediately if the backlog is at capacity. Callers never wait
// forever.
func (q *Queue) Enqueue(path string) <-chan Result {
	done := make(chan Result, 1)
	cmd := &queuedCommand{path: path, done: done, enqueuedAt: time.Now()}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		done <- Result{Err: ErrQueueStopped}
		return done
	}
	select {
	case q.queue <- cmd:
		q.pendingCount.Add(1)
	default:
		q.mu.Unlock()
		done <- Result{Err: ErrQueueFull}
		return done
	}
	q.mu.Unlock()

	return done
}

// PendingCount returns the number of commands enqueued but not yet
// resolved.
func (q *Queue) PendingCount() int {
	return int(q.pendingCount.Load())
}

// Dispatched returns the total number of commands dispatched to the
// transport.
func (q *Queue) Dispatched() uint64 {
	return q.dispatched.Load()
}

// Stop shuts the queue down. Every command still queued is resolved
// with ErrQueueStopped; nothing is dropped silently. Idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	alreadyStopped := q.stopped
	q.stopped = true
	q.mu.Unlock()

	q.done.Close()
	q.wg.Wait()

	if alreadyStopped {
		return
	}

	// The worker has exited and stopped=true blocks new submissions, so
	// whatever remains in the channel is the final backlog.
	for {
		select {
		case cmd := <-q.queue:
			q.resolve(cmd, Result{Err: ErrQueueStopped})
		default:
			return
		}
	}
}

// worker is the single dispatch loop: FIFO order, pacing floor, one
// command in flight.
func (q *Queue) worker() {
	defer q.wg.Done()

	var lastDispatch time.Time

	for {
		select {
		case <-q.done.Done():
			return
		case cmd := <-q.queue:
			// Wait out the remainder of the pacing interval.
			if wait := q.cfg.MinInterval - time.Since(lastDispatch); wait > 0 && !lastDispatch.IsZero() {
				timer := time.NewTimer(wait)
				select {
				case <-q.done.Done():
					timer.Stop()
					q.resolve(cmd, Result{Err: ErrQueueStopped})
					return
				case <-timer.C:
				}
			}

			lastDispatch = time.Now()
			q.dispatched.Add(1)

			ctx, cancel := context.WithTimeout(context.Background(), q.cfg.CommandTimeout)
			data, err := q.transport.Exchange(ctx, cmd.path)
			cancel()

			if err != nil {
				q.log().Debug("command failed",
					"transport", q.transport.Name(),
					"path", cmd.path,
					"queued_for", time.Since(cmd.enqueuedAt),
					"error", err)
			}
			q.resolve(cmd, Result{Data: data, Err: err})
		}
	}
}

// resolve delivers the outcome on the completion handle. The handle is
// buffered so delivery never blocks, and each command is resolved
// exactly once.
func (q *Queue) resolve(cmd *queuedCommand, result Result) {
	q.pendingCount.Add(-1)
	cmd.done <- result
}
