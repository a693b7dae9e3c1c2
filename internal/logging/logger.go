// Package logging provides categorized zap loggers for teller. Each
// subsystem logs through a named child logger so log output can be filtered
// per category. Before Initialize is called every category resolves to a nop
// logger, which keeps tests and library use quiet by default.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryGuard     Category = "guard"     // input validation, rate limiting
	CategoryClassify  Category = "classify"  // intent classification
	CategoryResolve   Category = "resolve"   // entity + implicit amount resolution
	CategoryDialogue  Category = "dialogue"  // state machine transitions
	CategoryTxn       Category = "txn"       // transaction coordination, idempotency
	CategoryStore     Category = "store"     // sqlite persistence
	CategoryProcessor Category = "processor" // turn orchestration
)

// Config controls logger construction.
type Config struct {
	// Level: debug, info, warn, error. Empty means info.
	Level string `yaml:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development"`
}

var (
	mu      sync.RWMutex
	base    = zap.NewNop()
	loggers = make(map[Category]*zap.Logger)
)

// Initialize builds the process-wide base logger. Safe to call more than
// once; later calls replace the base and invalidate cached children.
func Initialize(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	built, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	base = built
	loggers = make(map[Category]*zap.Logger)
	mu.Unlock()
	return nil
}

// SetBase replaces the base logger directly. Used by tests and by callers
// that already own a configured *zap.Logger.
func SetBase(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	base = l
	loggers = make(map[Category]*zap.Logger)
	mu.Unlock()
}

// Get returns the named logger for a category.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := base.Named(string(cat))
	loggers[cat] = l
	return l
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}
