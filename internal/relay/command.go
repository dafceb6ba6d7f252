package relay

import "fmt"

// Command is one actuation in the closed set of operations a relay
// understands. Each variant renders its own endpoint path; numeric
// arguments are clamped to the relay's accepted range, never rejected.
//
// The set is closed: the dispatcher and the MQTT bridge construct
// variants directly, there is no name-based lookup.
type Command interface {
	// Path returns the endpoint path for this command against the named
	// bulb, e.g. "/bulb/lamp/brightness/80".
	Path(bulb string) string

	// Action returns the short action name the relay echoes back in its
	// reply ("on", "off", "brightness", "rgb", "temperature",
	// "connect", "disconnect").
	Action() string
}

// Argument ranges accepted by the relay firmware.
const (
	// BrightnessMin and BrightnessMax bound the brightness percentage.
	BrightnessMin = 0
	BrightnessMax = 100

	// ChannelMin and ChannelMax bound each RGB channel.
	ChannelMin = 0
	ChannelMax = 255

	// TemperatureMin and TemperatureMax bound colour temperature in Kelvin.
	TemperatureMin = 2000
	TemperatureMax = 9000
)

// TurnOn switches a bulb on.
type TurnOn struct{}

func (TurnOn) Path(bulb string) string { return fmt.Sprintf("/bulb/%s/on", bulb) }
func (TurnOn) Action() string          { return "on" }

// TurnOff switches a bulb off.
type TurnOff struct{}

func (TurnOff) Path(bulb string) string { return fmt.Sprintf("/bulb/%s/off", bulb) }
func (TurnOff) Action() string          { return "off" }

// SetBrightness sets brightness as a percentage. Level is clamped to
// [0, 100] before transmission.
type SetBrightness struct {
	Level int
}

func (c SetBrightness) Path(bulb string) string {
	return fmt.Sprintf("/bulb/%s/brightness/%d", bulb, clamp(c.Level, BrightnessMin, BrightnessMax))
}
func (SetBrightness) Action() string { return "brightness" }

// SetRGB sets the colour as an RGB triple. Each channel is clamped to
// [0, 255] before transmission.
type SetRGB struct {
	R, G, B int
}

func (c SetRGB) Path(bulb string) string {
	return fmt.Sprintf("/bulb/%s/rgb/r=%d&g=%d&b=%d", bulb,
		clamp(c.R, ChannelMin, ChannelMax),
		clamp(c.G, ChannelMin, ChannelMax),
		clamp(c.B, ChannelMin, ChannelMax))
}
func (SetRGB) Action() string { return "rgb" }

// SetTemperature sets the colour temperature in Kelvin, clamped to
// [2000, 9000] before transmission.
type SetTemperature struct {
	Kelvin int
}

func (c SetTemperature) Path(bulb string) string {
	return fmt.Sprintf("/bulb/%s/temperature/%d", bulb, clamp(c.Kelvin, TemperatureMin, TemperatureMax))
}
func (SetTemperature) Action() string { return "temperature" }

// ConnectBulb asks the relay to (re)establish its link to the bulb.
type ConnectBulb struct{}

func (ConnectBulb) Path(bulb string) string { return fmt.Sprintf("/bulb/%s/connect", bulb) }
func (ConnectBulb) Action() string          { return "connect" }

// DisconnectBulb asks the relay to drop its link to the bulb.
type DisconnectBulb struct{}

func (DisconnectBulb) Path(bulb string) string { return fmt.Sprintf("/bulb/%s/disconnect", bulb) }
func (DisconnectBulb) Action() string          { return "disconnect" }

// ListPath is the unthrottled device listing endpoint. It is a read,
// not an actuation, and bypasses queue pacing.
const ListPath = "/bulbs"

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
