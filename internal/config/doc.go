// Package config loads relay CLI configuration: built-in defaults, an
// optional YAML file and RELAY_* environment variables, validated before
// use. A .env file in the working directory is honored for local runs.
//
// Example:
//
//	cfg, err := config.Load("relay.yaml")
//	if err != nil {
//	    return err
//	}
//	// Build a transport and client from cfg.
package config
