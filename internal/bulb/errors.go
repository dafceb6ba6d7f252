package bulb

import "errors"

// Domain errors for the bulb package.
var (
	// ErrBulbNotFound is returned when a bulb name resolves to no
	// transport, including after the dispatcher's single rescan.
	// Terminal: the dispatcher never retries past it.
	ErrBulbNotFound = errors.New("bulb: not found")

	// ErrTransportNotFound is returned when a transport name is not
	// registered with the directory.
	ErrTransportNotFound = errors.New("bulb: transport not found")

	// ErrTransportExists is returned when registering a transport name
	// that is already present.
	ErrTransportExists = errors.New("bulb: transport already exists")

	// ErrNoTransports is returned by a rescan when the directory has no
	// transports registered.
	ErrNoTransports = errors.New("bulb: no transports configured")

	// ErrInvalidCommand is returned by the MQTT bridge when a command
	// payload does not describe a known action.
	ErrInvalidCommand = errors.New("bulb: invalid command payload")
)
