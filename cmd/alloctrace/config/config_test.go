package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/alloctrace/pkg/shim"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, shim.DefaultTag, cfg.Tag)
	assert.Empty(t, cfg.Sink)
	assert.Equal(t, shim.DefaultArenaCapacity, cfg.ArenaCapacity)
	assert.Equal(t, 100, cfg.DigestSize)
	assert.Equal(t, 100, cfg.Values)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Address)

	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "EmptyTag",
			mutate:  func(c *Config) { c.Tag = "" },
			wantErr: "tag",
		},
		{
			name:    "NonPositiveArena",
			mutate:  func(c *Config) { c.ArenaCapacity = 0 },
			wantErr: "arena_capacity",
		},
		{
			name:    "NonPositiveDigestSize",
			mutate:  func(c *Config) { c.DigestSize = -1 },
			wantErr: "digest_size",
		},
		{
			name:    "NonPositiveValues",
			mutate:  func(c *Config) { c.Values = 0 },
			wantErr: "values",
		},
		{
			name: "MetricsEnabledWithoutAddress",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Address = ""
			},
			wantErr: "metrics address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromViper(t *testing.T) {
	t.Run("DefaultsWhenNothingSet", func(t *testing.T) {
		cfg, err := LoadFromViper(viper.New())
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("FlagsOverrideDefaults", func(t *testing.T) {
		v := viper.New()
		v.Set("tag", "LD_PRELOAD")
		v.Set("sink", "/tmp/trace.out")
		v.Set("arena-capacity", 4096)
		v.Set("digest-size", 200)
		v.Set("values", 1000)
		v.Set("log-level", "debug")
		v.Set("metrics", true)
		v.Set("metrics-address", ":2112")

		cfg, err := LoadFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "LD_PRELOAD", cfg.Tag)
		assert.Equal(t, "/tmp/trace.out", cfg.Sink)
		assert.Equal(t, 4096, cfg.ArenaCapacity)
		assert.Equal(t, 200, cfg.DigestSize)
		assert.Equal(t, 1000, cfg.Values)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, ":2112", cfg.Metrics.Address)
	})

	t.Run("InvalidOverrideRejected", func(t *testing.T) {
		v := viper.New()
		v.Set("values", -5)
		_, err := LoadFromViper(v)
		assert.Error(t, err)
	})

	t.Run("MissingConfigFileRejected", func(t *testing.T) {
		v := viper.New()
		v.Set("config", "/nonexistent/alloctrace.yaml")
		_, err := LoadFromViper(v)
		assert.Error(t, err)
	})
}
