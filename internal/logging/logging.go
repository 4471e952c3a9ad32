// Package logging provides named zap loggers shared across autoscope
// components. Until Init is called the root logger is a no-op, which keeps
// tests silent by default.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Init builds the process-wide root logger. level is one of debug, info,
// warn, error; development selects the human-readable console encoder.
func Init(level string, development bool) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	SetRoot(logger)
	return nil
}

// SetRoot replaces the root logger. Tests may install zaptest loggers here.
func SetRoot(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
}

// Get returns a named child of the root logger, e.g. logging.Get("loop").
func Get(name string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(name)
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
