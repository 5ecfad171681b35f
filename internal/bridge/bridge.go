package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/mqtt"
)

// Bridge defaults used when Options leaves a field zero.
const (
	defaultChannelName             = "mqtt"
	defaultDeliveryTimeout         = 5 * time.Second
	defaultShutdownTimeout         = 10 * time.Second
	defaultMaxConcurrentDeliveries = 16

	// publishRetryPause separates publish attempts when the connection drops
	// between WaitConnected and the send.
	publishRetryPause = 100 * time.Millisecond
)

// Bus is the group-messaging capability events are fanned out to.
type Bus interface {
	// SendToGroup delivers an encoded event to every member of group.
	SendToGroup(ctx context.Context, group string, event []byte) error
}

// PublishRequest is an outbound message for the broker.
type PublishRequest struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Options holds configuration for creating a bridge.
type Options struct {
	Registry *Registry
	Manager  *ConnectionManager
	Bus      Bus

	// ChannelName prefixes event and command types. Default: "mqtt"
	ChannelName string

	// DeliveryTimeout bounds one group delivery. Default: 5s
	DeliveryTimeout time.Duration

	// ShutdownTimeout bounds the in-flight drain and the broker disconnect.
	// Default: 10s
	ShutdownTimeout time.Duration

	// MaxConcurrentDeliveries caps parallel sends per message. Default: 16
	MaxConcurrentDeliveries int

	// ValidateGroup rejects group names the bus cannot deliver to. Nil
	// accepts any non-empty group.
	ValidateGroup func(group string) error

	Logger  Logger
	Metrics Metrics
}

// Stats holds bridge counters.
type Stats struct {
	MessagesIn       uint64
	RetainedDropped  uint64
	Unmatched        uint64
	Deliveries       uint64
	DeliveryFailures uint64
	Connection       ConnectionStats
}

// Bridge fans broker messages out to bus groups and forwards publish,
// subscribe and unsubscribe requests to the broker.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	registry        *Registry
	manager         *ConnectionManager
	bus             Bus
	channel         string
	deliveryTimeout time.Duration
	shutdownTimeout time.Duration
	maxConcurrent   int
	validateGroup   func(group string) error
	logger          Logger
	metrics         Metrics

	// In-flight inbound handling, drained on shutdown
	inflight   sync.WaitGroup
	inflightMu sync.Mutex
	draining   bool

	shutdown *closeOnce

	messagesIn       atomic.Uint64
	retainedDropped  atomic.Uint64
	unmatched        atomic.Uint64
	deliveries       atomic.Uint64
	deliveryFailures atomic.Uint64
}

// New creates a bridge from opts.
func New(opts Options) (*Bridge, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidOptions)
	}
	if opts.Manager == nil {
		return nil, fmt.Errorf("%w: connection manager is required", ErrInvalidOptions)
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("%w: bus is required", ErrInvalidOptions)
	}

	b := &Bridge{
		registry:        opts.Registry,
		manager:         opts.Manager,
		bus:             opts.Bus,
		channel:         opts.ChannelName,
		deliveryTimeout: opts.DeliveryTimeout,
		shutdownTimeout: opts.ShutdownTimeout,
		maxConcurrent:   opts.MaxConcurrentDeliveries,
		validateGroup:   opts.ValidateGroup,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		shutdown:        newCloseOnce(),
	}

	if b.channel == "" {
		b.channel = defaultChannelName
	}
	if b.deliveryTimeout <= 0 {
		b.deliveryTimeout = defaultDeliveryTimeout
	}
	if b.shutdownTimeout <= 0 {
		b.shutdownTimeout = defaultShutdownTimeout
	}
	if b.maxConcurrent <= 0 {
		b.maxConcurrent = defaultMaxConcurrentDeliveries
	}
	if b.logger == nil {
		b.logger = nopLogger{}
	}
	if b.metrics == nil {
		b.metrics = nopMetrics{}
	}

	return b, nil
}

// Run starts the connection manager and handles inbound messages until ctx
// is cancelled or RequestShutdown is called. It then drains in-flight
// deliveries, disconnects from the broker and returns. The returned error
// is non-nil only if the disconnect timed out.
func (b *Bridge) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.shutdown.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	managerDone := make(chan error, 1)
	go func() {
		managerDone <- b.manager.Run(runCtx)
	}()

	b.logger.Info("bridge running", "channel", b.channel)

	inbound := b.manager.Inbound()
	for runCtx.Err() == nil {
		select {
		case <-runCtx.Done():
		case msg := <-inbound:
			b.HandleInbound(runCtx, msg)
		}
	}

	return b.stop(managerDone)
}

// stop performs the shutdown sequence: refuse new work, let the manager
// loop exit, drain in-flight deliveries, disconnect.
func (b *Bridge) stop(managerDone <-chan error) error {
	b.logger.Info("bridge shutting down")
	b.manager.beginShutdown()

	if err := <-managerDone; err != nil {
		b.logger.Warn("connection manager exited with error", "error", err)
	}

	b.inflightMu.Lock()
	b.draining = true
	b.inflightMu.Unlock()

	drained := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(drained)
	}()

	timer := time.NewTimer(b.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-drained:
	case <-timer.C:
		b.logger.Warn("in-flight deliveries still running at shutdown", "timeout", b.shutdownTimeout)
	}

	err := b.manager.Close(b.shutdownTimeout)
	b.logger.Info("bridge stopped")
	return err
}

// RequestShutdown asks a running bridge to stop. It returns immediately and
// is safe to call any number of times, before or during Run.
func (b *Bridge) RequestShutdown() {
	b.shutdown.Close()
	b.manager.beginShutdown()
}

// track registers one in-flight inbound message. It reports false once
// draining has started.
func (b *Bridge) track() bool {
	b.inflightMu.Lock()
	defer b.inflightMu.Unlock()

	if b.draining {
		return false
	}
	b.inflight.Add(1)
	return true
}

// HandleInbound fans msg out to every group whose filter matches its topic.
//
// Retained messages are dropped. Group deliveries run concurrently, each
// bounded by the delivery timeout; a failed delivery is logged and does not
// affect the others. HandleInbound returns after every delivery finished.
func (b *Bridge) HandleInbound(ctx context.Context, msg mqtt.Message) {
	if !b.track() {
		b.logger.Debug("dropping message received during shutdown", "topic", msg.Topic)
		return
	}
	defer b.inflight.Done()

	b.messagesIn.Add(1)
	b.metrics.RecordInbound(msg.Topic, msg.Retained)

	if msg.Retained {
		b.retainedDropped.Add(1)
		b.logger.Debug("dropping retained message", "topic", msg.Topic)
		return
	}

	groups := b.registry.MatchingGroups(msg.Topic)
	if len(groups) == 0 {
		b.unmatched.Add(1)
		return
	}

	event, err := b.encodeEvent(msg)
	if err != nil {
		b.logger.Error("encoding fan-out event failed", "topic", msg.Topic, "error", err)
		return
	}

	start := time.Now()

	var g errgroup.Group
	g.SetLimit(b.maxConcurrent)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			b.deliver(ctx, group, msg.Topic, event)
			return nil
		})
	}
	_ = g.Wait()

	b.metrics.RecordFanOut(msg.Topic, len(groups), time.Since(start))
}

// deliver sends event to one group. Cancellation of ctx does not abort a
// delivery already started; only the delivery timeout does.
func (b *Bridge) deliver(ctx context.Context, group, topic string, event []byte) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.deliveryTimeout)
	defer cancel()

	start := time.Now()
	err := b.send(ctx, group, event)
	b.metrics.RecordDelivery(group, err, time.Since(start))

	if err != nil {
		b.deliveryFailures.Add(1)
		b.logger.Error("fan-out delivery failed", "group", group, "topic", topic, "error", err)
		return
	}
	b.deliveries.Add(1)
}

// send calls the bus, converting a panic into an error.
func (b *Bridge) send(ctx context.Context, group string, event []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus send panic: %v", r)
		}
	}()
	return b.bus.SendToGroup(ctx, group, event)
}

// Publish sends req to the broker, waiting for the connection if needed.
// It fails fast with ErrShuttingDown once shutdown has begun.
func (b *Bridge) Publish(ctx context.Context, req PublishRequest) error {
	if err := mqtt.ValidateTopic(req.Topic); err != nil {
		return err
	}
	if req.QoS > 2 {
		return mqtt.ErrInvalidQoS
	}

	for {
		if err := b.manager.WaitConnected(ctx); err != nil {
			return err
		}

		err := b.manager.publish(req.Topic, req.Payload, req.QoS, req.Retain)
		if !errors.Is(err, mqtt.ErrNotConnected) {
			return err
		}

		// Lost between the wait and the send; wait for the next connection.
		if err := sleepContext(ctx, publishRetryPause); err != nil {
			return err
		}
	}
}

// Subscribe subscribes group to filter. The broker is subscribed when the
// filter is new and the connection is up; otherwise the filter is picked
// up by the next connect.
func (b *Bridge) Subscribe(ctx context.Context, filter, group string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := mqtt.ValidateFilter(filter); err != nil {
		return err
	}
	if group == "" {
		return ErrInvalidGroup
	}
	if b.validateGroup != nil {
		if err := b.validateGroup(group); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidGroup, err)
		}
	}

	err := b.manager.subscribeFilter(filter, func() bool {
		return b.registry.Subscribe(filter, group)
	})
	if err == nil {
		b.logger.Debug("group subscribed", "filter", filter, "group", group)
	}
	return err
}

// Unsubscribe removes group from filter. The broker is unsubscribed when
// the filter has no groups left and the connection is up.
func (b *Bridge) Unsubscribe(ctx context.Context, filter, group string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := mqtt.ValidateFilter(filter); err != nil {
		return err
	}
	if group == "" {
		return ErrInvalidGroup
	}

	err := b.manager.unsubscribeFilter(filter, func() bool {
		return b.registry.Unsubscribe(filter, group)
	})
	if err == nil {
		b.logger.Debug("group unsubscribed", "filter", filter, "group", group)
	}
	return err
}

// Stats returns current counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		MessagesIn:       b.messagesIn.Load(),
		RetainedDropped:  b.retainedDropped.Load(),
		Unmatched:        b.unmatched.Load(),
		Deliveries:       b.deliveries.Load(),
		DeliveryFailures: b.deliveryFailures.Load(),
		Connection:       b.manager.Stats(),
	}
}

// HealthCheck returns nil while the broker connection is up.
func (b *Bridge) HealthCheck(ctx context.Context) error {
	return b.manager.HealthCheck(ctx)
}
