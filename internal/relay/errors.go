package relay

import "errors"

// Domain errors for the relay package.
var (
	// ErrNotConnected is returned when an operation requires an open
	// channel but the transport is not connected.
	ErrNotConnected = errors.New("relay: not connected")

	// ErrConnectionFailed is returned when opening, reading or writing
	// the channel fails. It invalidates connection state: the next
	// exchange reconnects before sending.
	ErrConnectionFailed = errors.New("relay: connection failed")

	// ErrNoReply is returned when no parseable JSON line arrives within
	// the per-command time and attempt budget. The channel itself stays
	// valid; only genuine I/O failures force a reconnect.
	ErrNoReply = errors.New("relay: no valid reply within budget")

	// ErrCommandFailed is returned when the relay parsed and executed a
	// command but reported success=false in its reply.
	ErrCommandFailed = errors.New("relay: command reported failure")

	// ErrQueueStopped is returned for every command still queued (or in
	// flight) when its queue is stopped.
	ErrQueueStopped = errors.New("relay: queue stopped")

	// ErrQueueFull is returned when the command queue backlog is at
	// capacity and cannot accept another command.
	ErrQueueFull = errors.New("relay: queue full")

	// ErrInvalidReply is returned when a JSON reply arrives but does not
	// match the expected shape.
	ErrInvalidReply = errors.New("relay: invalid reply")
)
