// Package mqtt provides the broker side of the bridge.
//
// This package manages:
//   - Topic filter matching and validation (Matches, ValidateFilter, ValidateTopic)
//   - TLS context construction from file-based material (NewTLSConfig)
//   - A single-attempt broker client with an event stream (Client)
//
// # Architecture
//
// The Client never reconnects on its own. One Connect call is one attempt,
// classified as a broker refusal (ErrConnectionRefused) or a transient
// failure (ErrConnectionFailed). The owner decides how long to wait before
// the next attempt and replays subscriptions after it succeeds.
//
//	broker ──► paho ──► Client.Events() ──► owner
//
// Inbound messages, connection loss and subscribe acknowledgments share the
// event stream so the owner has a single place to consume them.
//
// # Security Considerations
//
//   - TLS verification is on by default; VerifyHostname=false keeps chain
//     verification for brokers with self-signed certificates
//   - Credentials are sent only when a username is configured
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	if err := client.Connect(ctx, nil); err != nil {
//	    return err
//	}
//	defer client.Disconnect(time.Second)
//
//	if err := client.Subscribe("chat/+", 1); err != nil {
//	    return err
//	}
//	for ev := range client.Events() {
//	    if ev.Type == mqtt.EventMessage {
//	        fmt.Println(ev.Message.Topic, string(ev.Message.Payload))
//	    }
//	}
package mqtt
