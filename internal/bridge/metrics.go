package bridge

import "time"

// Connection attempt outcomes passed to Metrics.RecordConnectAttempt.
const (
	OutcomeConnected = "connected"
	OutcomeRefused   = "refused"
	OutcomeFailed    = "failed"
	OutcomeTLSError  = "tls_error"
)

// Metrics receives operational observations from the bridge.
// Implementations must not block; they are called on the message path.
type Metrics interface {
	// RecordInbound is called for every broker message, retained or not.
	RecordInbound(topic string, retained bool)

	// RecordFanOut is called once per message that matched at least one group.
	RecordFanOut(topic string, groups int, elapsed time.Duration)

	// RecordDelivery is called for every group delivery; err is nil on success.
	RecordDelivery(group string, err error, elapsed time.Duration)

	// RecordConnectAttempt is called after each connection attempt with the
	// outcome and the delay before the next attempt (zero on success).
	RecordConnectAttempt(outcome string, delay time.Duration)

	// RecordConnectionState is called on every state transition.
	RecordConnectionState(state string)
}

type nopMetrics struct{}

func (nopMetrics) RecordInbound(string, bool) {}
func (nopMetrics) RecordFanOut(string, int, time.Duration) {}
func (nopMetrics) RecordDelivery(string, error, time.Duration) {}
func (nopMetrics) RecordConnectAttempt(string, time.Duration) {}
func (nopMetrics) RecordConnectionState(string) {}
