package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	base = zap.NewNop()
)

// Init configures the process-wide logger. Production uses the JSON encoder,
// everything else a colored console encoder.
func Init(production bool, level string) error {
	var cfg zap.Config
	if production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	Set(logger)
	return nil
}

// Set replaces the process-wide logger
func Set(logger *zap.Logger) {
	mu.Lock()
	base = logger
	mu.Unlock()
}

// Named returns a sugared logger for one component, e.g. Named("deployment")
func Named(component string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(component).Sugar()
}

// Sync flushes buffered log entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}
