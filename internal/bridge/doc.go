// Package bridge connects an MQTT broker to a group-based message bus.
//
// Application components subscribe a named group to a broker topic filter.
// Every broker message whose topic matches a filter is fanned out to the
// groups subscribed to it. Publish requests travel the other way.
//
// # Components
//
//   - Registry: filter → groups map, fan-out target computation
//   - ConnectionManager: the single broker connection, its state machine
//     (Disconnected → Connecting → Connected → ShuttingDown → Stopped),
//     two-tier retry and subscription replay after each connect
//   - Bridge: inbound fan-out, outbound publish, bus commands, shutdown
//
// # Retry policy
//
// Connection attempts never give up. A transient failure (network, timeout,
// TLS material) waits RetryDelay; a broker refusal (bad credentials,
// protocol version) waits the longer RejectCooldown.
//
// # Event format
//
// Each fan-out carries one JSON event:
//
//	{"type": "mqtt.message", "message": {"id": "0190...", "topic": "chat/general", "payload": {"text": "hi"}, "qos": 1}}
//
// Retained messages replayed by the broker on subscribe are not fanned out.
//
// # Usage
//
//	registry := bridge.NewRegistry()
//	manager, _ := bridge.NewConnectionManager(bridge.ConnectionOptions{
//	    Broker:   mqtt.New(cfg.MQTT),
//	    Registry: registry,
//	})
//	b, _ := bridge.New(bridge.Options{Registry: registry, Manager: manager, Bus: bus})
//	_ = b.Subscribe(ctx, "chat/+", "room42")
//	err := b.Run(ctx) // blocks until ctx is cancelled or RequestShutdown
package bridge
