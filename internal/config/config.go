// Package config holds all teller configuration, loaded from YAML with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"teller/internal/logging"
)

// Config holds all teller configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Guard      GuardConfig      `yaml:"guard"`
	Dialogue   DialogueConfig   `yaml:"dialogue"`
	Txn        TxnConfig        `yaml:"txn"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Store      StoreConfig      `yaml:"store"`
	Logging    logging.Config   `yaml:"logging"`
}

// GuardConfig configures input validation and rate limiting.
type GuardConfig struct {
	MinMessageLen int `yaml:"min_message_len"`
	MaxMessageLen int `yaml:"max_message_len"`

	// Sliding-window request budgets per user.
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
}

// DialogueConfig configures the state machine.
type DialogueConfig struct {
	// ConfidenceThreshold below which classifier output never locks an intent.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// SessionTTL is the inactivity timeout after which a session resets to idle.
	SessionTTL string `yaml:"session_ttl"`
	// SchemaPath optionally points to a YAML slot-schema file. Empty means
	// compiled-in defaults.
	SchemaPath string `yaml:"schema_path"`
	// WatchSchema enables hot-reload of the schema file.
	WatchSchema bool `yaml:"watch_schema"`
}

// TxnConfig configures the transaction coordinator.
type TxnConfig struct {
	// IdempotencyTTL is the cache lifetime of a completed idempotency key.
	IdempotencyTTL string `yaml:"idempotency_ttl"`
	// ExecutionTimeout bounds a single ActionExecutor invocation.
	ExecutionTimeout string `yaml:"execution_timeout"`
	// CeilingMinor caps any single transaction, in minor units. Zero means
	// no ceiling.
	CeilingMinor int64 `yaml:"ceiling_minor"`
}

// ClassifierConfig selects and configures the intent classifier.
type ClassifierConfig struct {
	Provider string `yaml:"provider"` // keyword, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// StoreConfig configures sqlite persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	// PruneInterval is how often expired sessions and idempotency entries
	// are swept.
	PruneInterval string `yaml:"prune_interval"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "teller",
		Version: "1.0.0",

		Guard: GuardConfig{
			MinMessageLen: 1,
			MaxMessageLen: 1000,
			PerMinute:     20,
			PerHour:       200,
			PerDay:        1000,
		},

		Dialogue: DialogueConfig{
			ConfidenceThreshold: 0.60,
			SessionTTL:          "30m",
		},

		Txn: TxnConfig{
			IdempotencyTTL:   "24h",
			ExecutionTimeout: "30s",
			CeilingMinor:     1_000_000, // 10,000.00 in minor units
		},

		Classifier: ClassifierConfig{
			Provider: "keyword",
			Model:    "gemini-2.0-flash",
			Timeout:  "10s",
		},

		Store: StoreConfig{
			DatabasePath:  "data/teller.db",
			PruneInterval: "5m",
		},

		Logging: logging.Config{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Classifier.APIKey == "" {
		c.Classifier.APIKey = key
	}
	if path := os.Getenv("TELLER_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if schema := os.Getenv("TELLER_SCHEMA"); schema != "" {
		c.Dialogue.SchemaPath = schema
	}
	if level := os.Getenv("TELLER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Guard.MinMessageLen < 1 {
		return fmt.Errorf("guard.min_message_len must be >= 1")
	}
	if c.Guard.MaxMessageLen < c.Guard.MinMessageLen {
		return fmt.Errorf("guard.max_message_len must be >= min_message_len")
	}
	if c.Dialogue.ConfidenceThreshold < 0 || c.Dialogue.ConfidenceThreshold > 1 {
		return fmt.Errorf("dialogue.confidence_threshold must be in [0, 1]")
	}
	if c.Txn.CeilingMinor < 0 {
		return fmt.Errorf("txn.ceiling_minor must be >= 0")
	}
	if _, err := time.ParseDuration(c.Txn.IdempotencyTTL); err != nil {
		return fmt.Errorf("txn.idempotency_ttl: %w", err)
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetSessionTTL returns the parsed session inactivity timeout.
func (c *Config) GetSessionTTL() time.Duration {
	return parseDuration(c.Dialogue.SessionTTL, 30*time.Minute)
}

// GetIdempotencyTTL returns the parsed idempotency cache lifetime.
func (c *Config) GetIdempotencyTTL() time.Duration {
	return parseDuration(c.Txn.IdempotencyTTL, 24*time.Hour)
}

// GetExecutionTimeout returns the parsed action execution timeout.
func (c *Config) GetExecutionTimeout() time.Duration {
	return parseDuration(c.Txn.ExecutionTimeout, 30*time.Second)
}

// GetClassifierTimeout returns the parsed classifier call timeout.
func (c *Config) GetClassifierTimeout() time.Duration {
	return parseDuration(c.Classifier.Timeout, 10*time.Second)
}

// GetPruneInterval returns the parsed store sweep interval.
func (c *Config) GetPruneInterval() time.Duration {
	return parseDuration(c.Store.PruneInterval, 5*time.Minute)
}
