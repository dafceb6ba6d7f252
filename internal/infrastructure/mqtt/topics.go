package mqtt

import "fmt"

// Topic prefixes for the Bulbgrid MQTT hierarchy.
//
// All runtime topics use the flat scheme: bulbgrid/{category}/{transport}/{bulb}.
// Transport names come from config (transports[].name); bulb names come from
// the relay's own device listing.
const (
	// TopicPrefix is the base for all Bulbgrid topics.
	TopicPrefix = "bulbgrid"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "bulbgrid/system"
)

// Topics provides builders for Bulbgrid MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BulbState("relay-garage", "lamp")
//	// Returns: "bulbgrid/state/relay-garage/lamp"
type Topics struct{}

// BulbState returns the topic for bulb state updates.
//
// Example: bulbgrid/state/relay-garage/lamp
func (Topics) BulbState(transport, bulb string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, transport, bulb)
}

// BulbAvailability returns the topic for bulb availability updates.
//
// Example: bulbgrid/availability/relay-garage/lamp
func (Topics) BulbAvailability(transport, bulb string) string {
	return fmt.Sprintf("%s/availability/%s/%s", TopicPrefix, transport, bulb)
}

// BulbCommand returns the topic on which actuation commands are received.
// Commands are addressed by bulb name only; the dispatcher resolves the
// owning transport through the device directory.
//
// Example: bulbgrid/command/lamp
func (Topics) BulbCommand(bulb string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, bulb)
}

// BulbAck returns the topic for command acknowledgements.
//
// Example: bulbgrid/ack/lamp
func (Topics) BulbAck(bulb string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, bulb)
}

// TransportHealth returns the topic for per-transport reachability.
//
// Example: bulbgrid/health/relay-garage
func (Topics) TransportHealth(transport string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, transport)
}

// ScanEvent returns the topic for directory scan events (moved and
// vanished bulbs).
//
// Example: bulbgrid/scan/event
func (Topics) ScanEvent() string {
	return fmt.Sprintf("%s/scan/event", TopicPrefix)
}

// SystemStatus returns the system status topic (online/offline, LWT).
//
// Example: bulbgrid/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllBulbCommands returns a pattern matching all actuation commands.
//
// Pattern: bulbgrid/command/+
func (Topics) AllBulbCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllBulbStates returns a pattern matching all bulb state updates.
//
// Pattern: bulbgrid/state/+/+
func (Topics) AllBulbStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllTransportHealth returns a pattern matching all transport health updates.
//
// Pattern: bulbgrid/health/+
func (Topics) AllTransportHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Bulbgrid topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: bulbgrid/#
func (Topics) AllTopics() string {
	return "bulbgrid/#"
}
