package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Resolver.SharedPoolTTL)
	assert.Equal(t, 12*time.Hour, cfg.Resolver.GenerationCacheTTL)
	assert.Equal(t, 168*time.Hour, cfg.Resolver.GeneratedTTL)
	assert.Equal(t, time.Hour, cfg.Resolver.StaticTTL)
	assert.Equal(t, 720*time.Hour, cfg.Resolver.GenCacheWriteTTL)
	assert.Equal(t, 0.5, cfg.Resolver.HalfLifeFraction)
	assert.Equal(t, 100, cfg.Resolver.CacheCapacity)
	assert.Equal(t, 20, cfg.Resolver.EvictBatch)
	assert.Equal(t, 15, cfg.Resolver.ExactCap)
	assert.Equal(t, 25, cfg.Resolver.NearCap)
	assert.Equal(t, 20, cfg.Quota.DailyLimit)
	assert.Equal(t, 3, cfg.Quota.InitialCredits)
	assert.Contains(t, cfg.Vocabulary.Basics, "salt")
}

func TestValidateConfigRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero capacity", func(c *Config) { c.Resolver.CacheCapacity = 0 }},
		{"evict batch above capacity", func(c *Config) { c.Resolver.EvictBatch = c.Resolver.CacheCapacity + 1 }},
		{"half life out of range", func(c *Config) { c.Resolver.HalfLifeFraction = 1.5 }},
		{"negative ttl", func(c *Config) { c.Resolver.SharedPoolTTL = -time.Hour }},
		{"generator enabled without key", func(c *Config) { c.Generator.Enabled = true; c.Generator.APIKey = "" }},
		{"pool enabled without dsn", func(c *Config) { c.Postgres.Enabled = true; c.Postgres.DSN = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", MaskAPIKey("short"))
	assert.Equal(t, "sk-a...wxyz", MaskAPIKey("sk-abcdefghijklmnopqrstuvwxyz"))
}
