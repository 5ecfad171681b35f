package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a fully defaulted configuration that passes Validate.
func validConfig() *Config {
	cfg := Default()
	cfg.applyDerived()
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
mqtt:
  broker:
    host: "broker.local"
    port: 1884
    client_id: "test-client"
    protocol_version: 311
  auth:
    username: "bridge"
    password: "secret"
  qos: 2
  reconnect:
    retry_delay: 500ms
    reject_cooldown: 1m
bridge:
  channel_name: "iot"
  delivery_timeout: 2s
nats:
  url: "nats://bus.local:4222"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker.Port = %d, want 1884", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.ProtocolVersion != ProtocolMQTT311 {
		t.Errorf("MQTT.Broker.ProtocolVersion = %d, want %d", cfg.MQTT.Broker.ProtocolVersion, ProtocolMQTT311)
	}
	if cfg.MQTT.Reconnect.RetryDelay != 500*time.Millisecond {
		t.Errorf("MQTT.Reconnect.RetryDelay = %v, want 500ms", cfg.MQTT.Reconnect.RetryDelay)
	}
	if cfg.MQTT.Reconnect.RejectCooldown != time.Minute {
		t.Errorf("MQTT.Reconnect.RejectCooldown = %v, want 1m", cfg.MQTT.Reconnect.RejectCooldown)
	}
	if cfg.Bridge.ChannelName != "iot" {
		t.Errorf("Bridge.ChannelName = %q, want %q", cfg.Bridge.ChannelName, "iot")
	}

	// Unset fields keep their defaults
	if cfg.Bridge.ShutdownTimeout != 10*time.Second {
		t.Errorf("Bridge.ShutdownTimeout = %v, want 10s", cfg.Bridge.ShutdownTimeout)
	}
	if !cfg.MQTT.TLS.Verify || !cfg.MQTT.TLS.VerifyHostname {
		t.Error("TLS verification should default to enabled")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
mqtt:
  reconnect:
    retry_delay: 30s
    reject_cooldown: 5s
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for cooldown shorter than retry delay")
	}
	if !strings.Contains(err.Error(), "reject_cooldown") {
		t.Errorf("Load() error = %v, want mention of reject_cooldown", err)
	}
}

func TestLoad_TLSDefaultPort(t *testing.T) {
	content := `
mqtt:
  tls:
    enabled: true
    verify_hostname: false
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883 with TLS enabled", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.TLS.VerifyHostname {
		t.Error("MQTT.TLS.VerifyHostname = true, want false from file")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(_ *Config) {},
			wantErr: false,
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.MQTT.Broker.Host = "" },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "mqtt v5 rejected",
			mutate:  func(c *Config) { c.MQTT.Broker.ProtocolVersion = 5 },
			wantErr: true,
		},
		{
			name:    "mqtt 3.1 accepted",
			mutate:  func(c *Config) { c.MQTT.Broker.ProtocolVersion = ProtocolMQTT31 },
			wantErr: false,
		},
		{
			name:    "cert without key",
			mutate:  func(c *Config) { c.MQTT.TLS.CertFile = "/etc/bridge/client.pem" },
			wantErr: true,
		},
		{
			name: "equal backoff tiers",
			mutate: func(c *Config) {
				c.MQTT.Reconnect.RetryDelay = 5 * time.Second
				c.MQTT.Reconnect.RejectCooldown = 5 * time.Second
			},
			wantErr: true,
		},
		{
			name:    "zero retry delay",
			mutate:  func(c *Config) { c.MQTT.Reconnect.RetryDelay = 0 },
			wantErr: true,
		},
		{
			name:    "channel name with wildcard",
			mutate:  func(c *Config) { c.Bridge.ChannelName = "mqtt.>" },
			wantErr: true,
		},
		{
			name:    "no concurrent deliveries",
			mutate:  func(c *Config) { c.Bridge.MaxConcurrentDeliveries = 0 },
			wantErr: true,
		},
		{
			name:    "missing nats url",
			mutate:  func(c *Config) { c.NATS.URL = "" },
			wantErr: true,
		},
		{
			name: "influxdb enabled without bucket",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.URL = "http://127.0.0.1:8086"
				c.InfluxDB.Org = "bridge"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("MQTTBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("MQTTBRIDGE_MQTT_PORT", "1999")
	t.Setenv("MQTTBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("MQTTBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("MQTTBRIDGE_CHANNEL_NAME", "sensors")
	t.Setenv("MQTTBRIDGE_NATS_URL", "nats://10.0.0.2:4222")
	t.Setenv("MQTTBRIDGE_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 1999 {
		t.Errorf("MQTT.Broker.Port = %d, want 1999", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.Bridge.ChannelName != "sensors" {
		t.Errorf("Bridge.ChannelName = %q, want %q", cfg.Bridge.ChannelName, "sensors")
	}
	if cfg.NATS.URL != "nats://10.0.0.2:4222" {
		t.Errorf("NATS.URL = %q, want %q", cfg.NATS.URL, "nats://10.0.0.2:4222")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestApplyDerived(t *testing.T) {
	tests := []struct {
		name        string
		tls         bool
		version     int
		wantPort    int
		wantVersion int
	}{
		{name: "plain defaults", tls: false, version: 0, wantPort: 1883, wantVersion: ProtocolMQTT311},
		{name: "tls defaults", tls: true, version: 0, wantPort: 8883, wantVersion: ProtocolMQTT311},
		{name: "311 alias", tls: false, version: 311, wantPort: 1883, wantVersion: ProtocolMQTT311},
		{name: "31 alias", tls: false, version: 31, wantPort: 1883, wantVersion: ProtocolMQTT31},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.MQTT.TLS.Enabled = tt.tls
			cfg.MQTT.Broker.ProtocolVersion = tt.version
			cfg.applyDerived()

			if cfg.MQTT.Broker.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", cfg.MQTT.Broker.Port, tt.wantPort)
			}
			if cfg.MQTT.Broker.ProtocolVersion != tt.wantVersion {
				t.Errorf("ProtocolVersion = %d, want %d", cfg.MQTT.Broker.ProtocolVersion, tt.wantVersion)
			}
			if !strings.HasPrefix(cfg.MQTT.Broker.ClientID, "mqttbridge@") {
				t.Errorf("ClientID = %q, want mqttbridge@ prefix", cfg.MQTT.Broker.ClientID)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("Default MQTT.Broker.Host = %q, want localhost", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Reconnect.RejectCooldown <= cfg.MQTT.Reconnect.RetryDelay {
		t.Error("Default reject cooldown should exceed retry delay")
	}
	if cfg.Bridge.ChannelName != "mqtt" {
		t.Errorf("Default Bridge.ChannelName = %q, want mqtt", cfg.Bridge.ChannelName)
	}
	if cfg.InfluxDB.Enabled {
		t.Error("Default InfluxDB.Enabled = true, want false")
	}
}

func TestMQTTBrokerConfig_Address(t *testing.T) {
	b := MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883}
	if got := b.Address(); got != "127.0.0.1:1883" {
		t.Errorf("Address() = %q, want %q", got, "127.0.0.1:1883")
	}
}
