// Package config handles loading and validating hwsim configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (HWSIM_*)
//   - Validation of the device list, address pool and transports
//   - Default value handling
//
// The defaults describe the stock board, so running without a config file
// serves the same devices as the physical unit.
//
// Security Considerations:
//   - Broker passwords and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.ListenAddress())
package config
