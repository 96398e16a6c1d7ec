package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "memory", cfg.EntryStore)
	assert.False(t, cfg.HistoryEnabled)
	assert.Equal(t, 100, cfg.HistoryBatchSize)
	assert.Equal(t, 30*time.Second, cfg.DefaultPollInterval)
	assert.Equal(t, 15*time.Second, cfg.CallTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ENTRY_STORE", "mongo")
	t.Setenv("HISTORY_ENABLED", "true")
	t.Setenv("POLL_INTERVAL", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, "mongo", cfg.EntryStore)
	assert.True(t, cfg.HistoryEnabled)
	assert.Equal(t, 5*time.Second, cfg.DefaultPollInterval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.EntryStore = "postgres" }},
		{"zero batch size", func(c *Config) { c.HistoryBatchSize = 0 }},
		{"huge batch size", func(c *Config) { c.HistoryBatchSize = 20000 }},
		{"sub-second poll interval", func(c *Config) { c.DefaultPollInterval = 100 * time.Millisecond }},
		{"sub-second call timeout", func(c *Config) { c.CallTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
