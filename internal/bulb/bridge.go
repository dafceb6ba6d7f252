package bulb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bulbgrid/bulbgrid-core/internal/infrastructure/mqtt"
	"github.com/bulbgrid/bulbgrid-core/internal/relay"
)

// Bridge operation constants.
const (
	// dispatchTimeout bounds one MQTT-triggered actuation end to end,
	// including queue pacing delay and the dispatcher's single retry.
	dispatchTimeout = 30 * time.Second

	// maxConcurrentDispatches bounds in-flight MQTT commands. Pacing
	// happens per transport; this only caps goroutine growth.
	maxConcurrentDispatches = 8

	// commandQoS is the QoS level for command and ack traffic.
	commandQoS = 1
)

// MQTTClient is the interface for MQTT operations. Satisfied by
// *mqtt.Client; allows mocking in tests.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Bridge connects the dispatcher to MQTT: it receives actuation
// commands on bulbgrid/command/<bulb>, dispatches them, publishes acks,
// and mirrors every scan's outcome to health, availability and state
// topics so the platform glue never talks to a transport directly.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	mqtt       MQTTClient
	dispatcher *Dispatcher
	directory  *Directory
	topics     mqtt.Topics

	// Shutdown coordination
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Dispatch slots (bounded goroutine spawning)
	slots chan struct{}

	logger Logger
}

// NewBridge creates a bridge. Start must be called to subscribe.
func NewBridge(client MQTTClient, dispatcher *Dispatcher, directory *Directory) *Bridge {
	return &Bridge{
		mqtt:       client,
		dispatcher: dispatcher,
		directory:  directory,
		done:       make(chan struct{}),
		slots:      make(chan struct{}, maxConcurrentDispatches),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

// Start subscribes to the command topic pattern.
func (b *Bridge) Start() error {
	if err := b.mqtt.Subscribe(b.topics.AllBulbCommands(), commandQoS, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	b.logger.Info("bridge started", "topic", b.topics.AllBulbCommands())
	return nil
}

// Stop waits for in-flight dispatches to finish. Idempotent.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

// commandPayload is the JSON body expected on command topics.
//
// Examples:
//
//	{"action":"on"}
//	{"action":"brightness","value":80}
//	{"action":"rgb","r":255,"g":0,"b":64}
//	{"action":"temperature","value":4000}
type commandPayload struct {
	Action string `json:"action"`
	Value  *int   `json:"value"`
	R      *int   `json:"r"`
	G      *int   `json:"g"`
	B      *int   `json:"b"`
}

// parseCommand maps a command payload onto the closed operation set.
func parseCommand(payload []byte) (relay.Command, error) {
	var p commandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	switch p.Action {
	case "on":
		return relay.TurnOn{}, nil
	case "off":
		return relay.TurnOff{}, nil
	case "brightness":
		if p.Value == nil {
			return nil, fmt.Errorf("%w: brightness requires value", ErrInvalidCommand)
		}
		return relay.SetBrightness{Level: *p.Value}, nil
	case "rgb":
		if p.R == nil || p.G == nil || p.B == nil {
			return nil, fmt.Errorf("%w: rgb requires r, g and b", ErrInvalidCommand)
		}
		return relay.SetRGB{R: *p.R, G: *p.G, B: *p.B}, nil
	case "temperature":
		if p.Value == nil {
			return nil, fmt.Errorf("%w: temperature requires value", ErrInvalidCommand)
		}
		return relay.SetTemperature{Kelvin: *p.Value}, nil
	case "connect":
		return relay.ConnectBulb{}, nil
	case "disconnect":
		return relay.DisconnectBulb{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, p.Action)
	}
}

// handleCommand processes one incoming command message.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	name := parts[len(parts)-1]
	if name == "" {
		return
	}

	cmd, err := parseCommand(payload)
	if err != nil {
		b.logger.Warn("rejected command", "topic", topic, "error", err)
		b.publishAck(name, "", false, err)
		return
	}

	select {
	case <-b.done:
		return
	case b.slots <- struct{}{}:
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.slots }()

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		_, dispatchErr := b.dispatcher.Send(ctx, name, cmd)
		b.publishAck(name, cmd.Action(), dispatchErr == nil, dispatchErr)
	}()
}

// ackPayload is published on bulbgrid/ack/<bulb> after every dispatch.
type ackPayload struct {
	Bulb    string `json:"bulb"`
	Action  string `json:"action,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (b *Bridge) publishAck(name, action string, success bool, dispatchErr error) {
	ack := ackPayload{Bulb: name, Action: action, Success: success}
	if dispatchErr != nil {
		ack.Error = dispatchErr.Error()
	}
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := b.mqtt.Publish(b.topics.BulbAck(name), data, commandQoS, false); err != nil {
		b.logger.Warn("ack publish failed", "bulb", name, "error", err)
	}
}

// statePayload is published retained on bulbgrid/state/<transport>/<bulb>.
type statePayload struct {
	ID        int    `json:"id"`
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
}

// scanEventPayload is published on bulbgrid/scan/event after every rescan.
type scanEventPayload struct {
	Transports int         `json:"transports"`
	Online     int         `json:"online"`
	Bulbs      int         `json:"bulbs"`
	Moved      []MovedBulb `json:"moved,omitempty"`
	Vanished   []string    `json:"vanished,omitempty"`
	DurationMS int64       `json:"duration_ms"`
}

// PublishScan mirrors a rescan's outcome to MQTT: per-transport health,
// per-bulb availability and state (retained), and one scan event.
func (b *Bridge) PublishScan(report *ScanReport) {
	for _, snap := range b.directory.Snapshot() {
		health := "offline"
		if snap.Online {
			health = "online"
		}
		b.publish(b.topics.TransportHealth(snap.Name), []byte(health), true)

		for _, info := range snap.Bulbs {
			availability := "offline"
			if snap.Online && info.Connected {
				availability = "online"
			}
			b.publish(b.topics.BulbAvailability(snap.Name, info.Name), []byte(availability), true)

			state, err := json.Marshal(statePayload{
				ID:        info.ID,
				Address:   info.Address,
				Connected: info.Connected,
			})
			if err != nil {
				continue
			}
			b.publish(b.topics.BulbState(snap.Name, info.Name), state, true)
		}
	}

	event, err := json.Marshal(scanEventPayload{
		Transports: report.Scanned,
		Online:     report.Online,
		Bulbs:      report.Bulbs,
		Moved:      report.Moved,
		Vanished:   report.Vanished,
		DurationMS: report.Duration.Milliseconds(),
	})
	if err != nil {
		return
	}
	b.publish(b.topics.ScanEvent(), event, false)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.mqtt.Publish(topic, payload, commandQoS, retained); err != nil {
		b.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}
