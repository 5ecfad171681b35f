package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/config"
)

// eventBuffer is the capacity of the event stream.
const eventBuffer = 256

// Client is a single-connection MQTT broker client built on paho.mqtt.golang.
//
// Unlike a self-healing client, each Connect call makes exactly one attempt;
// retry, backoff and subscription replay belong to the caller. Everything the
// broker sends back (messages, connection loss, subscribe acknowledgments)
// arrives on one event stream returned by Events.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - The caller should still serialise broker operations if it needs a
//     strict ordering between them.
type Client struct {
	cfg config.MQTTConfig

	// client is the paho client of the current attempt, nil between attempts.
	client pahomqtt.Client
	mu     sync.RWMutex

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a disconnected client for cfg.
func New(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:    cfg,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the event stream. It is never closed; stop reading when the
// owner shuts down.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect makes one connection attempt to the broker.
//
// Returns:
//   - nil on success (EventConnected has been emitted)
//   - ErrConnectionRefused when the broker refused the CONNECT (return codes 1-5)
//   - ErrConnectionFailed for everything else, including timeouts and ctx cancellation
//   - ErrClientClosed after Disconnect
func (c *Client) Connect(ctx context.Context, tlsConfig *tls.Config) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	opts := buildClientOptions(c.cfg, tlsConfig)
	opts.SetConnectionLostHandler(func(client pahomqtt.Client, err error) {
		if c.isCurrent(client) {
			c.emit(Event{Type: EventConnectionLost, Err: err})
		}
	})
	opts.SetDefaultPublishHandler(func(client pahomqtt.Client, msg pahomqtt.Message) {
		if c.isCurrent(client) {
			c.emit(Event{Type: EventMessage, Message: Message{
				Topic:     msg.Topic(),
				Payload:   msg.Payload(),
				QoS:       msg.Qos(),
				Retained:  msg.Retained(),
				Duplicate: msg.Duplicate(),
				MessageID: msg.MessageID(),
			}})
		}
	})

	pc := pahomqtt.NewClient(opts)

	c.mu.Lock()
	old := c.client
	c.client = pc
	c.mu.Unlock()
	if old != nil {
		old.Disconnect(0)
	}

	connectTimeout := c.cfg.Reconnect.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()

	token := pc.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.abandon(pc, token, connectTimeout)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-timer.C:
		c.abandon(pc, token, connectTimeout)
		return fmt.Errorf("%w: %w after %v", ErrConnectionFailed, ErrTimeout, connectTimeout)
	case <-c.done:
		c.abandon(pc, token, connectTimeout)
		return ErrClientClosed
	}

	if err := token.Error(); err != nil {
		c.release(pc)
		pc.Disconnect(0)
		if isRefusal(token, err) {
			return fmt.Errorf("%w: %w", ErrConnectionRefused, err)
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.emit(Event{Type: EventConnected})
	return nil
}

// abandon gives up on an attempt that is still in flight. The paho client is
// torn down once its connect token settles so a late success does not leave
// an orphaned connection behind.
func (c *Client) abandon(pc pahomqtt.Client, token pahomqtt.Token, wait time.Duration) {
	c.release(pc)
	go func() {
		token.WaitTimeout(wait)
		pc.Disconnect(0)
	}()
}

// release clears pc as the current client if it still is.
func (c *Client) release(pc pahomqtt.Client) {
	c.mu.Lock()
	if c.client == pc {
		c.client = nil
	}
	c.mu.Unlock()
}

// isCurrent reports whether pc belongs to the latest attempt. Callbacks from
// superseded paho clients are ignored.
func (c *Client) isCurrent(pc pahomqtt.Client) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil && c.client == pc
}

// current returns the connected paho client or ErrNotConnected.
func (c *Client) current() (pahomqtt.Client, error) {
	c.mu.RLock()
	pc := c.client
	c.mu.RUnlock()

	if pc == nil || !pc.IsConnectionOpen() {
		return nil, ErrNotConnected
	}
	return pc, nil
}

// emit delivers ev unless the client has been closed.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// tryEmit delivers ev only if there is room; used for informational events.
func (c *Client) tryEmit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// isRefusal reports whether a failed connect token carries a broker refusal.
func isRefusal(token pahomqtt.Token, err error) bool {
	if ct, ok := token.(*pahomqtt.ConnectToken); ok && isRefusalCode(ct.ReturnCode()) {
		return true
	}

	for _, refused := range []error{
		packets.ErrorRefusedBadProtocolVersion,
		packets.ErrorRefusedIDRejected,
		packets.ErrorRefusedServerUnavailable,
		packets.ErrorRefusedBadUsernameOrPassword,
		packets.ErrorRefusedNotAuthorised,
	} {
		if errors.Is(err, refused) {
			return true
		}
	}
	return false
}

// isRefusalCode reports whether rc is a CONNACK refusal (1 to 5).
func isRefusalCode(rc byte) bool {
	return rc >= packets.ErrRefusedBadProtocolVersion && rc <= packets.ErrRefusedNotAuthorised
}

// waitToken waits for a paho token with a timeout.
func waitToken(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	return token.Error()
}

// Subscribe subscribes filter at qos and waits for the SUBACK.
//
// Messages for the filter arrive on Events as EventMessage. An
// EventSubscribeAck with the granted QoS is emitted on success or refusal.
func (c *Client) Subscribe(filter string, qos byte) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	pc, err := c.current()
	if err != nil {
		return err
	}

	// nil callback: messages are routed to the default publish handler.
	token := pc.Subscribe(filter, qos, nil)
	if err := waitToken(token, defaultOperationTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, filter, err)
	}

	granted := qos
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if g, found := st.Result()[filter]; found {
			granted = g
		}
	}

	c.tryEmit(Event{Type: EventSubscribeAck, Filter: filter, GrantedQoS: granted})

	if granted == SubackFailure {
		return fmt.Errorf("%w: broker refused %s", ErrSubscribeFailed, filter)
	}
	return nil
}

// Unsubscribe removes the broker subscription for filter.
func (c *Client) Unsubscribe(filter string) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}

	pc, err := c.current()
	if err != nil {
		return err
	}

	if err := waitToken(pc.Unsubscribe(filter), defaultOperationTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, filter, err)
	}
	return nil
}

// Publish sends payload to topic and waits for the acknowledgment the QoS
// level requires.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (may duplicate)
//   - 2: Exactly once
func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	pc, err := c.current()
	if err != nil {
		return err
	}

	if err := waitToken(pc.Publish(topic, qos, retain, payload), defaultOperationTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// IsConnected reports whether the current attempt has an open connection.
func (c *Client) IsConnected() bool {
	_, err := c.current()
	return err == nil
}

// HealthCheck returns nil while the broker connection is open.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Disconnect closes the connection, allowing quiesce for in-flight work.
// The client cannot be reconnected afterwards. Safe to call more than once.
func (c *Client) Disconnect(quiesce time.Duration) {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	pc := c.client
	c.client = nil
	c.mu.Unlock()

	if pc != nil {
		pc.Disconnect(uint(quiesce.Milliseconds())) //nolint:gosec // quiesce is a small positive duration
	}
}
