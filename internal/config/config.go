package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/rzbill/relay/pkg/report"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// Endpoint is the reporting service base URL. Commands that talk to
	// the service require it; local dead-letter inspection does not.
	Endpoint string `koanf:"endpoint" validate:"omitempty,url"`
	Project  string `koanf:"project"`
	APIKey   string `koanf:"api_key"`

	LogLevel string `koanf:"log_level" validate:"omitempty,oneof=debug info warn error fatal"`
	// DataDir holds the dead-letter database. Empty means the platform
	// default (see DefaultDataDir).
	DataDir string `koanf:"data_dir"`
	// DeadLetter persists failed batches locally instead of dropping them.
	DeadLetter bool `koanf:"dead_letter"`
	// Filter is an optional CEL expression gating log records.
	Filter string `koanf:"filter"`

	HTTPTimeoutSec int `koanf:"http_timeout_sec" validate:"gte=0"`

	Launch LaunchConfig `koanf:"launch"`
	Batch  BatchConfig  `koanf:"batch"`
}

// LaunchConfig captures launch-level settings.
type LaunchConfig struct {
	Name        string            `koanf:"name"`
	Description string            `koanf:"description"`
	Mode        string            `koanf:"mode" validate:"omitempty,oneof=DEFAULT DEBUG"`
	Attributes  map[string]string `koanf:"attributes"`
	UUIDPrint   bool              `koanf:"uuid_print"`
}

// BatchConfig bounds the batching pipeline. Zero values fall back to the
// client defaults.
type BatchConfig struct {
	MaxEntries      int `koanf:"max_entries" validate:"gte=0"`
	MaxPayloadBytes int `koanf:"max_payload_bytes" validate:"gte=0"`
	QueueCapacity   int `koanf:"queue_capacity" validate:"gte=0"`
	DrainTimeoutSec int `koanf:"drain_timeout_sec" validate:"gte=0"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		LogLevel:       "info",
		HTTPTimeoutSec: 30,
		Launch: LaunchConfig{
			Mode: string(report.LaunchModeDefault),
		},
	}
}

// Load builds the configuration: built-in defaults, then the optional YAML
// file at path, then RELAY_* environment variables (a .env file in the
// working directory is read first when present).
func Load(path string) (Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if err := k.Load(envProvider(), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// HTTPTimeout returns the request timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

// DrainTimeout returns the graceful-stop bound as a duration.
func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.Batch.DrainTimeoutSec) * time.Second
}

// LaunchMode returns the typed launch mode.
func (c Config) LaunchMode() report.LaunchMode {
	if c.Launch.Mode == "" {
		return report.LaunchModeDefault
	}
	return report.LaunchMode(c.Launch.Mode)
}

// LaunchAttributes returns the configured attributes in report form.
func (c Config) LaunchAttributes() []report.Attribute {
	if len(c.Launch.Attributes) == 0 {
		return nil
	}
	attrs := make([]report.Attribute, 0, len(c.Launch.Attributes))
	for k, v := range c.Launch.Attributes {
		attrs = append(attrs, report.Attribute{Key: k, Value: v})
	}
	return attrs
}
