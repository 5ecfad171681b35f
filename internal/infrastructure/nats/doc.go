// Package nats connects the bridge to its group-messaging bus.
//
// Each group is a NATS subject, "<group_prefix>.<group>". Fan-out events
// are published on the group's subject; commands for the bridge arrive on
// the channel subject (bridge.channel_name) and may carry a reply inbox.
//
// # Usage
//
//	bus, err := nats.Connect(cfg.NATS, logger)
//	if err != nil {
//	    return err
//	}
//	defer bus.Close()
//
//	bus.SendToGroup(ctx, "room42", event)
//	bus.SubscribeCommands("mqtt", func(data []byte) error { ... })
//
// Reconnection to the NATS server is handled by nats.go; the bridge's own
// retry policy applies only to the MQTT broker.
package nats
