// Package config provides configuration structures for the tracing driver.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/TFMV/alloctrace/pkg/shim"
	"github.com/TFMV/alloctrace/pkg/tdigest"
)

// Config represents the driver configuration.
type Config struct {
	// Tag prefixes every trace line.
	Tag string `yaml:"tag" json:"tag"`
	// Sink is the trace output path; empty means stdout.
	Sink string `yaml:"sink" json:"sink"`
	// ArenaCapacity is the bootstrap arena size in bytes.
	ArenaCapacity int `yaml:"arena_capacity" json:"arena_capacity"`
	// DigestSize is the t-digest target size.
	DigestSize int `yaml:"digest_size" json:"digest_size"`
	// Values is how many values the driver pushes (1.0 .. Values).
	Values int `yaml:"values" json:"values"`
	// LogLevel controls the console logger.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// MetricsConfig represents metrics exposition configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// DefaultConfig returns the default driver configuration: the scenario
// from the reference driver (100 values into a size-100 digest).
func DefaultConfig() *Config {
	return &Config{
		Tag:           shim.DefaultTag,
		ArenaCapacity: shim.DefaultArenaCapacity,
		DigestSize:    tdigest.DefaultMaxSize,
		Values:        100,
		LogLevel:      "info",
		Metrics: MetricsConfig{
			Address: ":9090",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Tag == "" {
		return fmt.Errorf("tag must not be empty")
	}
	if c.ArenaCapacity <= 0 {
		return fmt.Errorf("arena_capacity must be positive, got %d", c.ArenaCapacity)
	}
	if c.DigestSize <= 0 {
		return fmt.Errorf("digest_size must be positive, got %d", c.DigestSize)
	}
	if c.Values <= 0 {
		return fmt.Errorf("values must be positive, got %d", c.Values)
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics address must be set when metrics are enabled")
	}
	return nil
}

// LoadFromViper builds a Config from viper-bound flags and an optional
// config file.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if v.IsSet("tag") {
		cfg.Tag = v.GetString("tag")
	}
	if v.IsSet("sink") {
		cfg.Sink = v.GetString("sink")
	}
	if v.IsSet("arena-capacity") {
		cfg.ArenaCapacity = v.GetInt("arena-capacity")
	}
	if v.IsSet("digest-size") {
		cfg.DigestSize = v.GetInt("digest-size")
	}
	if v.IsSet("values") {
		cfg.Values = v.GetInt("values")
	}
	if v.IsSet("log-level") {
		cfg.LogLevel = v.GetString("log-level")
	}
	if v.IsSet("metrics") {
		cfg.Metrics.Enabled = v.GetBool("metrics")
	}
	if v.IsSet("metrics-address") {
		cfg.Metrics.Address = v.GetString("metrics-address")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
