package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.60, cfg.Dialogue.ConfidenceThreshold)
	assert.Equal(t, 30*time.Minute, cfg.GetSessionTTL())
	assert.Equal(t, 24*time.Hour, cfg.GetIdempotencyTTL())
	assert.Equal(t, 30*time.Second, cfg.GetExecutionTimeout())
	assert.Equal(t, 5*time.Minute, cfg.GetPruneInterval())
	assert.Equal(t, "keyword", cfg.Classifier.Provider)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Guard, cfg.Guard)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Guard.PerMinute = 7
	cfg.Dialogue.ConfidenceThreshold = 0.75
	cfg.Txn.IdempotencyTTL = "1h"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Guard.PerMinute)
	assert.Equal(t, 0.75, loaded.Dialogue.ConfidenceThreshold)
	assert.Equal(t, time.Hour, loaded.GetIdempotencyTTL())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TELLER_DB", "/tmp/override.db")
	t.Setenv("TELLER_LOG_LEVEL", "debug")
	t.Setenv("GEMINI_API_KEY", "key-from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Store.DatabasePath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "key-from-env", cfg.Classifier.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero min message len", func(c *Config) { c.Guard.MinMessageLen = 0 }},
		{"max below min", func(c *Config) { c.Guard.MaxMessageLen = 0 }},
		{"threshold above one", func(c *Config) { c.Dialogue.ConfidenceThreshold = 1.5 }},
		{"negative ceiling", func(c *Config) { c.Txn.CeilingMinor = -1 }},
		{"unparseable ttl", func(c *Config) { c.Txn.IdempotencyTTL = "tomorrow" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dialogue.SessionTTL = "garbage"
	cfg.Txn.ExecutionTimeout = "-5s"
	assert.Equal(t, 30*time.Minute, cfg.GetSessionTTL())
	assert.Equal(t, 30*time.Second, cfg.GetExecutionTimeout())
}
