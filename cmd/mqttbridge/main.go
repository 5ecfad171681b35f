// MQTT bridge - connects an MQTT broker to a group-based message bus.
//
// Application components subscribe named groups to broker topic filters by
// sending commands on the bus; every matching broker message is fanned out
// to the interested groups as an event. Publish commands are forwarded to
// the broker. One resilient broker connection is kept per process.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/bridge"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/nats"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

var (
	_ bridge.Bus     = (*nats.Bus)(nil)
	_ bridge.Metrics = (*influxdb.Client)(nil)
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge and blocks until ctx is cancelled. Deferred closes
// run in reverse order: bus, then telemetry.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting MQTT bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"broker", cfg.MQTT.Broker.Address(),
		"client_id", cfg.MQTT.Broker.ClientID,
		"tls", cfg.MQTT.TLS.Enabled,
	)

	mqtt.RouteLibraryLogs(log.Component("paho"))

	// Telemetry (optional)
	var metrics bridge.Metrics
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Warn("telemetry write failed", "error", err)
		})
		metrics = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	bus, err := nats.Connect(cfg.NATS, log.Component("bus"))
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer func() {
		log.Info("closing bus connection")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing bus", "error", closeErr)
		}
	}()

	b, err := newBridge(cfg, bus, metrics, log)
	if err != nil {
		return err
	}

	if err := bus.SubscribeCommands(cfg.Bridge.ChannelName, commandHandler(ctx, b, cfg.Bridge.CommandTimeout)); err != nil {
		return fmt.Errorf("subscribing to bridge commands: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := b.Run(ctx); err != nil {
		return fmt.Errorf("stopping bridge: %w", err)
	}

	log.Info("MQTT bridge stopped")
	return nil
}

// newBridge builds the broker client, connection manager and bridge.
func newBridge(cfg *config.Config, bus bridge.Bus, metrics bridge.Metrics, log *logging.Logger) (*bridge.Bridge, error) {
	var tlsConfig func() (*tls.Config, error)
	if cfg.MQTT.TLS.Enabled {
		tlsCfg := cfg.MQTT.TLS
		tlsConfig = func() (*tls.Config, error) {
			return mqtt.NewTLSConfig(tlsCfg)
		}
	}

	registry := bridge.NewRegistry()

	manager, err := bridge.NewConnectionManager(bridge.ConnectionOptions{
		Broker:         mqtt.New(cfg.MQTT),
		Registry:       registry,
		TLSConfig:      tlsConfig,
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		RetryDelay:     cfg.MQTT.Reconnect.RetryDelay,
		RejectCooldown: cfg.MQTT.Reconnect.RejectCooldown,
		Logger:         log.Component("connection"),
		Metrics:        metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating connection manager: %w", err)
	}

	b, err := bridge.New(bridge.Options{
		Registry:                registry,
		Manager:                 manager,
		Bus:                     bus,
		ChannelName:             cfg.Bridge.ChannelName,
		DeliveryTimeout:         cfg.Bridge.DeliveryTimeout,
		ShutdownTimeout:         cfg.Bridge.ShutdownTimeout,
		MaxConcurrentDeliveries: cfg.Bridge.MaxConcurrentDeliveries,
		ValidateGroup:           groupValidator(cfg.NATS.GroupPrefix),
		Logger:                  log.Component("bridge"),
		Metrics:                 metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	return b, nil
}

// groupValidator rejects groups that cannot form a bus subject.
func groupValidator(prefix string) func(group string) error {
	return func(group string) error {
		_, err := nats.GroupSubject(prefix, group)
		return err
	}
}

// commandHandler applies bus commands to b, each bounded by timeout.
func commandHandler(ctx context.Context, b *bridge.Bridge, timeout time.Duration) nats.CommandHandler {
	return func(data []byte) error {
		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return b.HandleCommand(cmdCtx, data)
	}
}

// getConfigPath returns the configuration file path.
// Uses MQTTBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MQTTBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
