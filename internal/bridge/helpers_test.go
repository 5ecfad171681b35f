package bridge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/mqtt"
)

// =============================================================================
// Fake broker
// =============================================================================

// fakeBroker implements Broker in memory. Connect results are consumed in
// order from results; once exhausted, failAll is returned if set, else the
// connect succeeds.
type fakeBroker struct {
	mu           sync.Mutex
	results      []error
	failAll      error
	connected    bool
	connectCalls int
	tlsConfigs   []*tls.Config
	subscribes   []string
	unsubscribes []string
	published    []PublishRequest
	subscribeErr error
	publishErr   error
	disconnects  int

	// disconnectBlock, when set, stalls Disconnect until closed.
	disconnectBlock chan struct{}

	// ops, when set, records Disconnect in order with bus sends.
	ops *opLog

	events chan mqtt.Event
}

func newFakeBroker(results ...error) *fakeBroker {
	return &fakeBroker{
		results: results,
		events:  make(chan mqtt.Event, 64),
	}
}

func (f *fakeBroker) Connect(ctx context.Context, tlsConfig *tls.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", mqtt.ErrConnectionFailed, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.connectCalls++
	f.tlsConfigs = append(f.tlsConfigs, tlsConfig)

	var err error
	switch {
	case len(f.results) > 0:
		err = f.results[0]
		f.results = f.results[1:]
	case f.failAll != nil:
		err = f.failAll
	}
	if err == nil {
		f.connected = true
	}
	return err
}

func (f *fakeBroker) Disconnect(_ time.Duration) {
	f.mu.Lock()
	block := f.disconnectBlock
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	f.connected = false
	f.disconnects++
	ops := f.ops
	f.mu.Unlock()

	ops.add("disconnect")
}

func (f *fakeBroker) Subscribe(filter string, _ byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return mqtt.ErrNotConnected
	}
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribes = append(f.subscribes, filter)
	return nil
}

func (f *fakeBroker) Unsubscribe(filter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return mqtt.ErrNotConnected
	}
	f.unsubscribes = append(f.unsubscribes, filter)
	return nil
}

func (f *fakeBroker) Publish(topic string, payload []byte, qos byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return mqtt.ErrNotConnected
	}
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, PublishRequest{Topic: topic, Payload: payload, QoS: qos, Retain: retain})
	return nil
}

func (f *fakeBroker) Events() <-chan mqtt.Event {
	return f.events
}

// deliver simulates an inbound PUBLISH.
func (f *fakeBroker) deliver(msg mqtt.Message) {
	f.events <- mqtt.Event{Type: mqtt.EventMessage, Message: msg}
}

// drop simulates a broker-initiated disconnect.
func (f *fakeBroker) drop(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.events <- mqtt.Event{Type: mqtt.EventConnectionLost, Err: err}
}

func (f *fakeBroker) getSubscribes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribes...)
}

func (f *fakeBroker) getUnsubscribes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribes...)
}

func (f *fakeBroker) getPublished() []PublishRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PublishRequest(nil), f.published...)
}

func (f *fakeBroker) getConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *fakeBroker) getDisconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// =============================================================================
// Recording bus
// =============================================================================

type sentEvent struct {
	group string
	event []byte
}

// recordingBus implements Bus, recording successful sends. Groups listed in
// fail return that error; groups listed in panics panic.
type recordingBus struct {
	mu      sync.Mutex
	sent    []sentEvent
	fail    map[string]error
	panics  map[string]bool
	delay   time.Duration
	started int
	ops     *opLog
}

func newRecordingBus() *recordingBus {
	return &recordingBus{
		fail:   make(map[string]error),
		panics: make(map[string]bool),
	}
}

func (b *recordingBus) SendToGroup(ctx context.Context, group string, event []byte) error {
	b.mu.Lock()
	failErr := b.fail[group]
	shouldPanic := b.panics[group]
	delay := b.delay
	ops := b.ops
	b.started++
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if shouldPanic {
		panic("bus exploded")
	}
	if failErr != nil {
		return failErr
	}

	b.mu.Lock()
	b.sent = append(b.sent, sentEvent{group: group, event: append([]byte(nil), event...)})
	b.mu.Unlock()

	ops.add("send:" + group)
	return nil
}

func (b *recordingBus) getSent() []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentEvent(nil), b.sent...)
}

func (b *recordingBus) getStarted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// =============================================================================
// Operation log
// =============================================================================

// opLog records broker and bus operations in the order they complete.
// A nil log discards.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *opLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

// =============================================================================
// Recording metrics
// =============================================================================

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
	states   []string
	inbound  int
	fanOuts  int
	failures int
}

func (m *recordingMetrics) RecordInbound(string, bool) {
	m.mu.Lock()
	m.inbound++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordFanOut(string, int, time.Duration) {
	m.mu.Lock()
	m.fanOuts++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordDelivery(_ string, err error, _ time.Duration) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordConnectAttempt(outcome string, _ time.Duration) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordConnectionState(state string) {
	m.mu.Lock()
	m.states = append(m.states, state)
	m.mu.Unlock()
}

func (m *recordingMetrics) getOutcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.outcomes...)
}

// =============================================================================
// Fixtures
// =============================================================================

var (
	errTransient = fmt.Errorf("%w: dial tcp: connection refused", mqtt.ErrConnectionFailed)
	errRejected  = fmt.Errorf("%w: bad user name or password", mqtt.ErrConnectionRefused)
)

// delayRecorder replaces ConnectionManager.wait and records each delay
// without sleeping.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *delayRecorder) wait(ctx context.Context, delay time.Duration) error {
	d.mu.Lock()
	d.delays = append(d.delays, delay)
	d.mu.Unlock()
	return ctx.Err()
}

func (d *delayRecorder) get() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.delays...)
}

func newTestManager(t *testing.T, broker Broker, registry *Registry) *ConnectionManager {
	t.Helper()

	m, err := NewConnectionManager(ConnectionOptions{
		Broker:         broker,
		Registry:       registry,
		QoS:            1,
		RetryDelay:     10 * time.Millisecond,
		RejectCooldown: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewConnectionManager() error = %v", err)
	}
	return m
}

type testBridge struct {
	*Bridge
	broker   *fakeBroker
	bus      *recordingBus
	registry *Registry
	manager  *ConnectionManager
	delays   *delayRecorder
}

func newTestBridge(t *testing.T, broker *fakeBroker) *testBridge {
	t.Helper()

	registry := NewRegistry()
	manager := newTestManager(t, broker, registry)
	delays := &delayRecorder{}
	manager.wait = delays.wait

	bus := newRecordingBus()
	b, err := New(Options{
		Registry:        registry,
		Manager:         manager,
		Bus:             bus,
		ChannelName:     "mqtt",
		DeliveryTimeout: 200 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testBridge{Bridge: b, broker: broker, bus: bus, registry: registry, manager: manager, delays: delays}
}

// start runs the bridge in the background and stops it at cleanup.
func (tb *testBridge) start(t *testing.T) {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- tb.Run(context.Background())
	}()

	t.Cleanup(func() {
		tb.RequestShutdown()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run() did not return after RequestShutdown")
		}
	})
}

// waitConnected blocks until the manager reports Connected.
func (tb *testBridge) waitConnected(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tb.manager.WaitConnected(ctx); err != nil {
		t.Fatalf("WaitConnected() error = %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errBusDown = errors.New("bus: group unreachable")
