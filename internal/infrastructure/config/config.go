package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the MQTT bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	NATS     NATSConfig     `yaml:"nats"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	TLS       MQTTTLSConfig       `yaml:"tls"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`

	// Port defaults to 1883, or 8883 when TLS is enabled.
	Port int `yaml:"port"`

	// ClientID defaults to "mqttbridge@<hostname>.<pid>".
	ClientID string `yaml:"client_id"`

	// ProtocolVersion selects MQTT 3.1 (3) or 3.1.1 (4).
	// The aliases 31 and 311 are accepted. Default: 4
	ProtocolVersion int `yaml:"protocol_version"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
// Leaving Username empty connects anonymously.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTLSConfig contains TLS material for the broker connection.
type MQTTTLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// CAFile is a PEM bundle of trusted roots. Empty uses the system pool.
	CAFile string `yaml:"ca_file"`

	// CertFile and KeyFile are the client certificate pair. Both or neither.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// Verify enables certificate chain verification. Default: true
	Verify bool `yaml:"verify"`

	// VerifyHostname checks the broker name against its certificate.
	// Turn off for self-signed broker certificates issued without a matching
	// SAN; the chain is still verified when Verify is set. Default: true
	VerifyHostname bool `yaml:"verify_hostname"`
}

// MQTTReconnectConfig contains the two retry tiers used while connecting.
type MQTTReconnectConfig struct {
	// RetryDelay is the wait after a transient failure (network, timeout, TLS).
	// Default: 1s
	RetryDelay time.Duration `yaml:"retry_delay"`

	// RejectCooldown is the wait after the broker refused the connection
	// (bad credentials, protocol version). Must be longer than RetryDelay.
	// Default: 30s
	RejectCooldown time.Duration `yaml:"reject_cooldown"`

	// ConnectTimeout bounds a single connection attempt. Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// BridgeConfig contains fan-out and command handling settings.
type BridgeConfig struct {
	// ChannelName prefixes the event types: "<name>.message" for fan-out
	// events and "<name>.publish" etc. for commands. It is also the bus
	// subject commands are received on. Default: "mqtt"
	ChannelName string `yaml:"channel_name"`

	// DeliveryTimeout bounds a single group delivery. Default: 5s
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`

	// ShutdownTimeout bounds draining in-flight deliveries and the broker
	// disconnect, each. Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// CommandTimeout bounds handling of one bus command, including waiting
	// for the broker connection before a publish. Default: 30s
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// MaxConcurrentDeliveries caps parallel group sends per message. Default: 16
	MaxConcurrentDeliveries int `yaml:"max_concurrent_deliveries"`
}

// NATSConfig contains the group-messaging bus connection settings.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// GroupPrefix is prepended to group names to form bus subjects:
	// "<prefix>.<group>". Default: "groups"
	GroupPrefix string `yaml:"group_prefix"`

	// ReconnectWait is the delay between bus reconnect attempts. Default: 2s
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// InfluxDBConfig contains InfluxDB connection settings for bridge telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTT protocol version selectors understood by the client library.
const (
	ProtocolMQTT31  = 3
	ProtocolMQTT311 = 4
)

// Default broker ports.
const (
	defaultPlainPort = 1883
	defaultTLSPort   = 8883
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Derived defaults (port from TLS flag, client ID from host and pid)
//
// Environment variables follow the pattern: MQTTBRIDGE_SECTION_KEY
// For example: MQTTBRIDGE_MQTT_HOST, MQTTBRIDGE_NATS_URL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with every optional field set to its documented
// default. Port and ClientID are left for applyDerived.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:            "localhost",
				ProtocolVersion: ProtocolMQTT311,
			},
			TLS: MQTTTLSConfig{
				Verify:         true,
				VerifyHostname: true,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				RetryDelay:     1 * time.Second,
				RejectCooldown: 30 * time.Second,
				ConnectTimeout: 10 * time.Second,
			},
		},
		Bridge: BridgeConfig{
			ChannelName:             "mqtt",
			DeliveryTimeout:         5 * time.Second,
			ShutdownTimeout:         10 * time.Second,
			CommandTimeout:          30 * time.Second,
			MaxConcurrentDeliveries: 16,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Name:          "mqttbridge",
			GroupPrefix:   "groups",
			ReconnectWait: 2 * time.Second,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("MQTTBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MQTTBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MQTTBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MQTTBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Bridge
	if v := os.Getenv("MQTTBRIDGE_CHANNEL_NAME"); v != "" {
		cfg.Bridge.ChannelName = v
	}

	// NATS
	if v := os.Getenv("MQTTBRIDGE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	// InfluxDB
	if v := os.Getenv("MQTTBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// applyDerived fills defaults that depend on other fields.
func (c *Config) applyDerived() {
	if c.MQTT.Broker.Port == 0 {
		c.MQTT.Broker.Port = defaultPlainPort
		if c.MQTT.TLS.Enabled {
			c.MQTT.Broker.Port = defaultTLSPort
		}
	}

	if c.MQTT.Broker.ClientID == "" {
		c.MQTT.Broker.ClientID = DefaultClientID()
	}

	switch c.MQTT.Broker.ProtocolVersion {
	case 0, 311:
		c.MQTT.Broker.ProtocolVersion = ProtocolMQTT311
	case 31:
		c.MQTT.Broker.ProtocolVersion = ProtocolMQTT31
	}
}

// DefaultClientID returns the broker client identifier used when none is
// configured: "mqttbridge@<hostname>.<pid>".
func DefaultClientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("mqttbridge@%s.%d", host, os.Getpid())
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	switch c.MQTT.Broker.ProtocolVersion {
	case ProtocolMQTT31, ProtocolMQTT311:
	case 5, 50:
		errs = append(errs, "mqtt.broker.protocol_version 5 is not supported (use 3 or 4)")
	default:
		errs = append(errs, "mqtt.broker.protocol_version must be 3 (3.1) or 4 (3.1.1)")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if (c.MQTT.TLS.CertFile == "") != (c.MQTT.TLS.KeyFile == "") {
		errs = append(errs, "mqtt.tls.cert_file and mqtt.tls.key_file must be set together")
	}
	if c.MQTT.Reconnect.RetryDelay <= 0 {
		errs = append(errs, "mqtt.reconnect.retry_delay must be positive")
	}
	if c.MQTT.Reconnect.RejectCooldown <= c.MQTT.Reconnect.RetryDelay {
		errs = append(errs, "mqtt.reconnect.reject_cooldown must be longer than retry_delay")
	}
	if c.MQTT.Reconnect.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.reconnect.connect_timeout must be positive")
	}

	// Bridge validation
	if c.Bridge.ChannelName == "" {
		errs = append(errs, "bridge.channel_name is required")
	} else if strings.ContainsAny(c.Bridge.ChannelName, " \t\r\n*>") {
		errs = append(errs, "bridge.channel_name must not contain whitespace or wildcards")
	}
	if c.Bridge.DeliveryTimeout <= 0 {
		errs = append(errs, "bridge.delivery_timeout must be positive")
	}
	if c.Bridge.ShutdownTimeout <= 0 {
		errs = append(errs, "bridge.shutdown_timeout must be positive")
	}
	if c.Bridge.CommandTimeout <= 0 {
		errs = append(errs, "bridge.command_timeout must be positive")
	}
	if c.Bridge.MaxConcurrentDeliveries < 1 {
		errs = append(errs, "bridge.max_concurrent_deliveries must be at least 1")
	}

	// NATS validation
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.NATS.GroupPrefix == "" {
		errs = append(errs, "nats.group_prefix is required")
	}

	// InfluxDB validation (only when enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Address returns the broker address as host:port.
func (c MQTTBrokerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
