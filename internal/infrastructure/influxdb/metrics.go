package influxdb

import (
	"strconv"
	"time"
)

// Measurement names written by the bridge.
const (
	MeasurementInbound           = "mqtt_inbound"
	MeasurementFanOut            = "mqtt_fanout"
	MeasurementDelivery          = "bus_delivery"
	MeasurementConnectionAttempt = "mqtt_connection_attempt"
	MeasurementConnection        = "mqtt_connection"
)

// Topics and errors are unbounded, so they are written as fields rather
// than tags. Groups and outcomes are tags.

// RecordInbound records one message received from the broker.
func (c *Client) RecordInbound(topic string, retained bool) {
	c.writePoint(MeasurementInbound,
		map[string]string{"retained": strconv.FormatBool(retained)},
		map[string]any{"topic": topic, "count": int64(1)},
	)
}

// RecordFanOut records one completed fan-out.
func (c *Client) RecordFanOut(topic string, groups int, elapsed time.Duration) {
	c.writePoint(MeasurementFanOut,
		nil,
		map[string]any{
			"topic":       topic,
			"groups":      int64(groups),
			"duration_ms": durationMillis(elapsed),
		},
	)
}

// RecordDelivery records one group delivery and its outcome.
func (c *Client) RecordDelivery(group string, err error, elapsed time.Duration) {
	outcome := "ok"
	fields := map[string]any{"duration_ms": durationMillis(elapsed)}
	if err != nil {
		outcome = "error"
		fields["error"] = err.Error()
	}

	c.writePoint(MeasurementDelivery,
		map[string]string{"group": group, "outcome": outcome},
		fields,
	)
}

// RecordConnectAttempt records one broker connection attempt and the
// delay before the next one.
func (c *Client) RecordConnectAttempt(outcome string, delay time.Duration) {
	c.writePoint(MeasurementConnectionAttempt,
		map[string]string{"outcome": outcome},
		map[string]any{"retry_delay_ms": durationMillis(delay)},
	)
}

// RecordConnectionState records a connection state transition.
func (c *Client) RecordConnectionState(state string) {
	c.writePoint(MeasurementConnection,
		map[string]string{"state": state},
		map[string]any{"value": int64(1)},
	)
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
