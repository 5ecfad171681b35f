// Package influxdb writes bridge telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library and implements the
// bridge metrics hooks, writing one point per event:
//
//   - mqtt_inbound: every message received from the broker
//   - mqtt_fanout: every completed fan-out, with group count and duration
//   - bus_delivery: every group delivery, tagged by group and outcome
//   - mqtt_connection_attempt: every connect attempt, tagged by outcome
//   - mqtt_connection: every connection state transition
//
// Telemetry is optional (influxdb.enabled in config.yaml).
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { logger.Warn("telemetry write failed", "error", err) })
//
// # Error Handling
//
// Writes are non-blocking and batched; write errors arrive through the
// SetOnError callback wrapped in ErrWriteFailed. Connection and health
// check errors are returned directly.
package influxdb
