// Package config handles loading and validating RAKO bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The MQTT password should be set via RAKOBRIDGE_MQTT_PASSWORD
//   - The config file should have restricted permissions (0600)
//   - MQTTAuthConfig redacts the password when printed or marshalled
//
// Usage:
//
//	cfg, err := config.Load("configs/rakobridge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.HubAddress())
package config
