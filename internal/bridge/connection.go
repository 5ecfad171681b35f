package bridge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/mqtt"
)

// Connection defaults used when ConnectionOptions leaves a field zero.
const (
	defaultRetryDelay        = 1 * time.Second
	defaultRejectCooldown    = 30 * time.Second
	defaultDisconnectQuiesce = 250 * time.Millisecond

	// inboundBuffer is the capacity of the channel feeding the bridge.
	inboundBuffer = 64
)

// State is the broker connection state.
type State int

// Connection states. A manager starts Disconnected and ends Stopped.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateShuttingDown
	StateStopped
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Broker is the broker-client capability the manager drives.
// *mqtt.Client satisfies it.
type Broker interface {
	Connect(ctx context.Context, tlsConfig *tls.Config) error
	Disconnect(quiesce time.Duration)
	Subscribe(filter string, qos byte) error
	Unsubscribe(filter string) error
	Publish(topic string, payload []byte, qos byte, retain bool) error
	Events() <-chan mqtt.Event
}

// Ensure mqtt.Client implements Broker.
var _ Broker = (*mqtt.Client)(nil)

// ConnectionOptions holds configuration for creating a ConnectionManager.
type ConnectionOptions struct {
	Broker   Broker
	Registry *Registry

	// TLSConfig builds the TLS context before every attempt. Nil connects
	// without TLS.
	TLSConfig func() (*tls.Config, error)

	// QoS is requested for every broker subscription.
	QoS byte

	// RetryDelay is the wait after a transient failure. Default: 1s
	RetryDelay time.Duration

	// RejectCooldown is the wait after a broker refusal. Default: 30s
	RejectCooldown time.Duration

	// DisconnectQuiesce is passed to the broker on shutdown. Default: 250ms
	DisconnectQuiesce time.Duration

	Logger  Logger
	Metrics Metrics
}

// ConnectionStats holds operational statistics.
type ConnectionStats struct {
	State      State
	Attempts   uint64 // connection attempts, successful or not
	Rejections uint64 // attempts the broker refused
	Reconnects uint64 // successful connections after the first
}

// ConnectionManager owns the single broker connection of a process.
//
// It runs the connect loop with two retry tiers, replays every registered
// filter once per successful connect, forwards inbound messages to
// Inbound, and serialises all broker I/O through one mutex.
//
// Thread Safety: All methods are safe for concurrent use.
type ConnectionManager struct {
	broker         Broker
	registry       *Registry
	tlsConfig      func() (*tls.Config, error)
	qos            byte
	retryDelay     time.Duration
	rejectCooldown time.Duration
	quiesce        time.Duration
	logger         Logger
	metrics        Metrics

	// ioMu serialises every call into the broker after Connect, and makes
	// replay plus the transition to Connected atomic with respect to
	// subscribeFilter and unsubscribeFilter.
	ioMu sync.Mutex

	stateMu sync.Mutex
	state   State
	ready   chan struct{} // closed while Connected

	stopping  *closeOnce
	inbound   chan mqtt.Message
	closeOnce sync.Once
	closeErr  error

	attempts      atomic.Uint64
	rejections    atomic.Uint64
	reconnects    atomic.Uint64
	everConnected atomic.Bool

	// wait sleeps between attempts; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewConnectionManager creates a manager in the Disconnected state.
func NewConnectionManager(opts ConnectionOptions) (*ConnectionManager, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("%w: broker is required", ErrInvalidOptions)
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidOptions)
	}

	m := &ConnectionManager{
		broker:         opts.Broker,
		registry:       opts.Registry,
		tlsConfig:      opts.TLSConfig,
		qos:            opts.QoS,
		retryDelay:     opts.RetryDelay,
		rejectCooldown: opts.RejectCooldown,
		quiesce:        opts.DisconnectQuiesce,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		state:          StateDisconnected,
		ready:          make(chan struct{}),
		stopping:       newCloseOnce(),
		inbound:        make(chan mqtt.Message, inboundBuffer),
		wait:           sleepContext,
	}

	if m.retryDelay <= 0 {
		m.retryDelay = defaultRetryDelay
	}
	if m.rejectCooldown <= 0 {
		m.rejectCooldown = defaultRejectCooldown
	}
	if m.quiesce <= 0 {
		m.quiesce = defaultDisconnectQuiesce
	}
	if m.logger == nil {
		m.logger = nopLogger{}
	}
	if m.metrics == nil {
		m.metrics = nopMetrics{}
	}

	return m, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inbound returns the stream of non-filtered broker messages.
func (m *ConnectionManager) Inbound() <-chan mqtt.Message {
	return m.inbound
}

// State returns the current connection state.
func (m *ConnectionManager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// setState moves to next. Stopped is terminal and ShuttingDown only leads
// to Stopped; it reports false when the transition is refused.
func (m *ConnectionManager) setState(next State) bool {
	m.stateMu.Lock()
	cur := m.state
	switch {
	case cur == next:
		m.stateMu.Unlock()
		return true
	case cur == StateStopped:
		m.stateMu.Unlock()
		return false
	case cur == StateShuttingDown && next != StateStopped:
		m.stateMu.Unlock()
		return false
	}

	if cur == StateConnected {
		m.ready = make(chan struct{})
	}
	if next == StateConnected {
		close(m.ready)
	}
	m.state = next
	m.stateMu.Unlock()

	m.metrics.RecordConnectionState(next.String())
	m.logger.Debug("connection state changed", "from", cur.String(), "to", next.String())
	return true
}

// Run drives the connection until ctx is cancelled or shutdown begins.
// It returns nil on a normal stop; the broker is left for Close to
// disconnect.
func (m *ConnectionManager) Run(ctx context.Context) error {
	if !m.setState(StateConnecting) {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-m.stopping.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	lost := make(chan error, 1)
	pumpDone := make(chan struct{})
	go m.pump(ctx, lost, pumpDone)

	for m.connectLoop(ctx) == nil {
		select {
		case <-ctx.Done():
		case err := <-lost:
			if m.setState(StateConnecting) {
				m.logger.Warn("broker connection lost, reconnecting", "error", err)
				continue
			}
		}
		break
	}

	cancel()
	<-pumpDone
	return nil
}

// pump forwards broker events until ctx is done.
func (m *ConnectionManager) pump(ctx context.Context, lost chan<- error, done chan<- struct{}) {
	defer close(done)

	events := m.broker.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case mqtt.EventMessage:
				select {
				case m.inbound <- ev.Message:
				case <-ctx.Done():
					return
				}
			case mqtt.EventConnectionLost:
				select {
				case lost <- ev.Err:
				default:
				}
			case mqtt.EventSubscribeAck:
				m.logger.Debug("subscription acknowledged", "filter", ev.Filter, "granted_qos", ev.GrantedQoS)
			case mqtt.EventConnected:
				m.logger.Debug("broker session established")
			}
		}
	}
}

// connectLoop attempts to connect until it succeeds or ctx is done.
// There is no attempt limit.
func (m *ConnectionManager) connectLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		delay, connected := m.attempt(ctx)
		if connected {
			return nil
		}

		if err := m.wait(ctx, delay); err != nil {
			return err
		}
	}
}

// attempt makes one connection attempt and returns the delay before the
// next one.
func (m *ConnectionManager) attempt(ctx context.Context) (time.Duration, bool) {
	m.attempts.Add(1)

	var tlsConfig *tls.Config
	if m.tlsConfig != nil {
		cfg, err := m.tlsConfig()
		if err != nil {
			m.logger.Error("TLS configuration failed, check certificate material",
				"error", err, "retry_in", m.retryDelay)
			m.metrics.RecordConnectAttempt(OutcomeTLSError, m.retryDelay)
			return m.retryDelay, false
		}
		tlsConfig = cfg
	}

	err := m.broker.Connect(ctx, tlsConfig)
	switch {
	case err == nil:
		m.metrics.RecordConnectAttempt(OutcomeConnected, 0)
		m.onConnected()
		return 0, true

	case errors.Is(err, mqtt.ErrConnectionRefused):
		m.rejections.Add(1)
		m.logger.Error("broker refused connection", "error", err, "retry_in", m.rejectCooldown)
		m.metrics.RecordConnectAttempt(OutcomeRefused, m.rejectCooldown)
		return m.rejectCooldown, false

	default:
		if ctx.Err() == nil {
			m.logger.Warn("broker connection failed", "error", err, "retry_in", m.retryDelay)
		}
		m.metrics.RecordConnectAttempt(OutcomeFailed, m.retryDelay)
		return m.retryDelay, false
	}
}

// onConnected replays every registered filter and then enters Connected.
// Both happen under ioMu so a concurrent subscribeFilter either lands in
// the replay or sees Connected and subscribes itself, never both.
func (m *ConnectionManager) onConnected() {
	m.ioMu.Lock()
	defer m.ioMu.Unlock()

	filters := m.registry.Filters()
	for _, filter := range filters {
		if err := m.broker.Subscribe(filter, m.qos); err != nil {
			m.logger.Error("replaying subscription failed", "filter", filter, "error", err)
		}
	}

	if m.everConnected.Swap(true) {
		m.reconnects.Add(1)
	}

	if m.setState(StateConnected) {
		m.logger.Info("connected to broker", "filters", len(filters))
	}
}

// subscribeFilter runs register under ioMu and subscribes the broker when
// register reports a new filter and the connection is up. Otherwise the
// filter waits in the registry for the next replay.
func (m *ConnectionManager) subscribeFilter(filter string, register func() bool) error {
	m.ioMu.Lock()
	defer m.ioMu.Unlock()

	if m.stopping.IsClosed() {
		return ErrShuttingDown
	}

	if !register() || m.State() != StateConnected {
		return nil
	}

	if err := m.broker.Subscribe(filter, m.qos); err != nil {
		// Kept in the registry; the next connect replays it.
		m.logger.Error("broker subscribe failed", "filter", filter, "error", err)
	}
	return nil
}

// unsubscribeFilter runs unregister under ioMu and unsubscribes the broker
// when the filter lost its last group while connected.
func (m *ConnectionManager) unsubscribeFilter(filter string, unregister func() bool) error {
	m.ioMu.Lock()
	defer m.ioMu.Unlock()

	if m.stopping.IsClosed() {
		return ErrShuttingDown
	}

	if !unregister() || m.State() != StateConnected {
		return nil
	}

	if err := m.broker.Unsubscribe(filter); err != nil {
		m.logger.Warn("broker unsubscribe failed", "filter", filter, "error", err)
	}
	return nil
}

// publish sends one message if connected.
func (m *ConnectionManager) publish(topic string, payload []byte, qos byte, retain bool) error {
	m.ioMu.Lock()
	defer m.ioMu.Unlock()

	switch m.State() {
	case StateConnected:
	case StateShuttingDown, StateStopped:
		return ErrShuttingDown
	default:
		return mqtt.ErrNotConnected
	}

	return m.broker.Publish(topic, payload, qos, retain)
}

// WaitConnected blocks until the connection is up, shutdown begins, or ctx
// is done.
func (m *ConnectionManager) WaitConnected(ctx context.Context) error {
	for {
		m.stateMu.Lock()
		state, ready := m.state, m.ready
		m.stateMu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateShuttingDown, StateStopped:
			return ErrShuttingDown
		}

		select {
		case <-ready:
		case <-m.stopping.Done():
			return ErrShuttingDown
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// beginShutdown refuses new work and releases waiters. Safe to call more
// than once.
func (m *ConnectionManager) beginShutdown() {
	m.stopping.Close()
	m.setState(StateShuttingDown)
}

// Close disconnects from the broker and enters Stopped. The disconnect is
// bounded by timeout so that Close always returns. Safe to call more than
// once; later calls return the first result.
func (m *ConnectionManager) Close(timeout time.Duration) error {
	m.closeOnce.Do(func() {
		m.beginShutdown()

		done := make(chan struct{})
		go func() {
			defer close(done)
			m.ioMu.Lock()
			defer m.ioMu.Unlock()
			m.broker.Disconnect(m.quiesce)
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-done:
		case <-timer.C:
			m.closeErr = fmt.Errorf("%w: broker disconnect after %v", mqtt.ErrTimeout, timeout)
			m.logger.Warn("broker disconnect did not finish in time", "timeout", timeout)
		}

		m.setState(StateStopped)
	})
	return m.closeErr
}

// Stats returns current operational statistics.
func (m *ConnectionManager) Stats() ConnectionStats {
	return ConnectionStats{
		State:      m.State(),
		Attempts:   m.attempts.Load(),
		Rejections: m.rejections.Load(),
		Reconnects: m.reconnects.Load(),
	}
}

// HealthCheck returns nil while the broker connection is up.
func (m *ConnectionManager) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("connection health check: %w", ctx.Err())
	default:
	}

	if m.State() != StateConnected {
		return fmt.Errorf("%w: state %s", mqtt.ErrNotConnected, m.State())
	}
	return nil
}
