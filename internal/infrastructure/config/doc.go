// Package config handles loading and validating the MQTT bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Deriving dependent defaults (broker port, client ID)
//   - Validation of required fields, once, at startup
//
// Security Considerations:
//   - Broker and bus credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Address())
package config
