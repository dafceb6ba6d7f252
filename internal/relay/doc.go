// Package relay implements the transport layer for bulb relay
// controllers: a resilient line-protocol client that extracts a single
// JSON reply from a noisy serial or socket byte stream, an HTTP variant
// of the same exchange contract, and a per-transport command queue
// enforcing strict serialization and pacing.
//
// Layering, leaves first:
//
//   - Stream: raw byte channel (serial port via go.bug.st/serial, or
//     TCP socket) with bounded-read semantics.
//   - Conn / HTTPConn: one physical channel each; connect, settle,
//     drain, then command/reply exchanges under the Transport contract.
//   - Queue: one background worker per transport; FIFO order, minimum
//     inter-dispatch interval, completion handles that always settle.
//   - Client: binds a transport to its queue; paced actuations via Do,
//     unthrottled listing via ListBulbs.
//
// Commands are a closed variant set (TurnOn, SetBrightness, SetRGB, ...)
// rendering the relay's endpoint paths with clamped arguments. The
// device directory and dispatcher built on top of this package live in
// internal/bulb.
package relay
