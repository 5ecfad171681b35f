package bridge

import (
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/mqtt"
)

// Event is the fan-out envelope sent to every matching group.
//
//	{"type": "mqtt.message", "message": {"id": "...", "topic": "chat/general", "payload": {...}, "qos": 1}}
type Event struct {
	Type    string       `json:"type"`
	Message EventMessage `json:"message"`
}

// EventMessage is the body of a fan-out event.
//
// Payload holds the broker payload verbatim when it is a JSON document, a
// string when it is other valid UTF-8, and base64 bytes otherwise. ID is a
// UUIDv7, unique per inbound message and shared by every group's copy.
type EventMessage struct {
	ID      string `json:"id"`
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
	QoS     byte   `json:"qos"`
}

// decodePayload returns the JSON representation of a broker payload and
// whether it was a JSON document.
func decodePayload(raw []byte) (any, bool) {
	if len(raw) > 0 && json.Valid(raw) {
		return json.RawMessage(raw), true
	}
	if utf8.Valid(raw) {
		return string(raw), false
	}
	return raw, false
}

// newEventID returns a time-ordered identifier for a fan-out event.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// encodeEvent builds and marshals the fan-out event for msg.
func (b *Bridge) encodeEvent(msg mqtt.Message) ([]byte, error) {
	payload, structured := decodePayload(msg.Payload)
	if !structured {
		b.logger.Debug("payload is not JSON, forwarding raw", "topic", msg.Topic, "bytes", len(msg.Payload))
	}

	return json.Marshal(Event{
		Type: b.channel + ".message",
		Message: EventMessage{
			ID:      newEventID(),
			Topic:   msg.Topic,
			Payload: payload,
			QoS:     msg.QoS,
		},
	})
}
