package mqtt

// EventType identifies the kind of Event delivered on Client.Events.
type EventType int

// Broker client events.
const (
	// EventConnected is emitted after a successful Connect.
	EventConnected EventType = iota + 1

	// EventConnectionLost is emitted when an established connection drops.
	// Err carries the cause.
	EventConnectionLost

	// EventMessage carries an inbound PUBLISH in Message.
	EventMessage

	// EventSubscribeAck reports the QoS the broker granted for Filter.
	// GrantedQoS is SubackFailure when the broker refused the filter.
	EventSubscribeAck
)

// SubackFailure is the granted-QoS value a broker returns for a refused filter.
const SubackFailure byte = 0x80

// String returns the event name for logging.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventConnectionLost:
		return "connection_lost"
	case EventMessage:
		return "message"
	case EventSubscribeAck:
		return "subscribe_ack"
	default:
		return "unknown"
	}
}

// Message is an inbound broker message.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
	MessageID uint16
}

// Event is one item on the client's event stream. Only the fields relevant
// to Type are set.
type Event struct {
	Type       EventType
	Message    Message
	Err        error
	Filter     string
	GrantedQoS byte
}
