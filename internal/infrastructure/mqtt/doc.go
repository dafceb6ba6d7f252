// Package mqtt provides MQTT client connectivity for Bulbgrid Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Bulbgrid publishes bulb state, availability and command acknowledgements
// over MQTT so the home-automation platform glue can consume them without
// linking against the relay engine. Actuation commands arrive the same way:
//
//	Platform glue ↔ MQTT Broker ↔ Bulbgrid Core ↔ Relay transports
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all actuation commands
//	err = client.Subscribe(mqtt.Topics{}.AllBulbCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a state update
//	topic := mqtt.Topics{}.BulbState("relay-garage", "lamp")
//	client.Publish(topic, []byte(`{"on":true}`), 1, true)
package mqtt
