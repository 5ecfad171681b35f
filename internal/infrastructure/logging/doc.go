// Package logging provides structured logging for the MQTT bridge.
//
// It wraps log/slog so every component logs the same way.
//
// # Features
//
//   - JSON output for production, text output for development
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Component loggers carrying a "component" attribute
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("connected to broker", "address", cfg.MQTT.Broker.Address())
//	logger.Component("bridge").Error("fan-out delivery failed", "group", group, "error", err)
//
// Broker and bus passwords are never logged.
package logging
