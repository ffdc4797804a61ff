// Package config handles loading and validating fluxquery configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (FLUXQUERY_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The InfluxDB token and MQTT password should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.InfluxDB.URL)
package config
