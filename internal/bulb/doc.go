// Package bulb implements the device layer over the relay transports:
// the directory that maps bulb names to whichever transport currently
// serves them, the dispatcher that actuates bulbs through it, and the
// MQTT bridge and SQLite audit trail around them.
//
// The binding is ephemeral. It is rebuilt from a live scan on startup
// and on every rescan (periodic or failure-triggered) and fully
// replaced, never merged or persisted. A transport that fails a scan
// round contributes nothing; its bulbs drop out until it answers again.
//
// Dispatch is bounded: one rescan and one retry per call, so a
// permanently removed bulb costs exactly two lookups and one rescan
// before the terminal ErrBulbNotFound.
package bulb
