package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Publish defaults applied when a command leaves qos or retain out.
const (
	defaultCommandQoS    = 2
	defaultCommandRetain = true
)

// Command actions, the part of the type after "<channel>." or "<channel>_".
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPublish     = "publish"
)

// subscriptionCommand is the body of subscribe and unsubscribe commands.
//
//	{"type": "mqtt.subscribe", "topic": "chat/+", "group": "room42"}
type subscriptionCommand struct {
	Topic string `json:"topic"`
	Group string `json:"group"`
}

// publishCommand is the body of a publish command.
//
//	{"type": "mqtt.publish", "publish": {"topic": "chat/general", "payload": {"text": "hi"}, "qos": 1, "retain": false}}
type publishCommand struct {
	Publish *publishBody `json:"publish"`
}

type publishBody struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	QoS     *int            `json:"qos"`
	Retain  *bool           `json:"retain"`
}

// HandleCommand decodes one command from the bus and applies it.
//
// Accepted types are "<channel>.subscribe", "<channel>.unsubscribe" and
// "<channel>.publish"; "_" is accepted in place of ".".
func (b *Bridge) HandleCommand(ctx context.Context, data []byte) error {
	typ := gjson.GetBytes(data, "type")
	if typ.Type != gjson.String {
		return fmt.Errorf("%w: missing string field \"type\"", ErrInvalidCommand)
	}

	action, ok := b.commandAction(typ.String())
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, typ.String())
	}

	switch action {
	case actionSubscribe, actionUnsubscribe:
		var cmd subscriptionCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		if action == actionSubscribe {
			return b.Subscribe(ctx, cmd.Topic, cmd.Group)
		}
		return b.Unsubscribe(ctx, cmd.Topic, cmd.Group)

	default:
		var cmd publishCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		if cmd.Publish == nil {
			return fmt.Errorf("%w: missing \"publish\" object", ErrInvalidCommand)
		}

		req, err := cmd.Publish.request()
		if err != nil {
			return err
		}
		return b.Publish(ctx, req)
	}
}

// commandAction strips the channel prefix from a command type.
func (b *Bridge) commandAction(typ string) (string, bool) {
	for _, sep := range []string{".", "_"} {
		rest, ok := strings.CutPrefix(typ, b.channel+sep)
		if !ok {
			continue
		}
		switch rest {
		case actionSubscribe, actionUnsubscribe, actionPublish:
			return rest, true
		}
	}
	return "", false
}

// request converts the command body into a PublishRequest. A JSON string
// payload is sent as its text; any other JSON value is sent as encoded.
func (p *publishBody) request() (PublishRequest, error) {
	req := PublishRequest{
		Topic:  p.Topic,
		QoS:    defaultCommandQoS,
		Retain: defaultCommandRetain,
	}

	if p.QoS != nil {
		if *p.QoS < 0 || *p.QoS > 2 {
			return PublishRequest{}, fmt.Errorf("%w: qos %d", ErrInvalidCommand, *p.QoS)
		}
		req.QoS = byte(*p.QoS)
	}
	if p.Retain != nil {
		req.Retain = *p.Retain
	}

	payload := gjson.ParseBytes(p.Payload)
	switch {
	case len(p.Payload) == 0 || payload.Type == gjson.Null:
		req.Payload = nil
	case payload.Type == gjson.String:
		req.Payload = []byte(payload.String())
	default:
		req.Payload = []byte(p.Payload)
	}

	return req, nil
}
