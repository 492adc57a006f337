// Package plog is the structured logging surface shared by every other
// psync package: a thin wrapper over go.uber.org/zap.
//
// Every psync package logs through plog.L() or plog.S() rather than
// constructing its own zap.Logger, so a single Init call controls the
// verbosity and format of an entire session.
package plog

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	global *zap.Logger
	level  zap.AtomicLevel
)

// Config controls how Init builds the global logger.
type Config struct {
	// Verbose is the CLI's -v flag as an int; 0 is info, 1 or higher is
	// debug.
	Verbose int
	// Console selects a human-readable encoder instead of JSON.
	// cmd/psync turns it on for every run except `psync --server`.
	Console bool
}

// Init builds the global logger from cfg. It is safe to call more than
// once; the most recent call wins.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	lvl := zapcore.InfoLevel
	if cfg.Verbose > 0 {
		lvl = zapcore.DebugLevel
	}
	level = zap.NewAtomicLevelAt(lvl)

	var zc zap.Config
	if cfg.Console {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level
	zc.DisableStacktrace = true

	logger, err := zc.Build()
	if err != nil {
		return err
	}
	global = logger
	return nil
}

// L returns the global logger, initializing a sane default the first time
// it is called without an explicit Init (e.g. in tests).
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global, _ = zap.NewProduction()
	}
	return global
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Sync flushes any buffered log entries. Callers should defer it from
// main; the error is deliberately discarded on stdout/stderr targets,
// which commonly fail to sync and carry no useful signal.
func Sync() {
	_ = L().Sync()
}

// Field helpers so callers rarely need to import zap directly.
func String(key, val string) zap.Field   { return zap.String(key, val) }
func Int(key string, val int) zap.Field  { return zap.Int(key, val) }
func Uint64(key string, val uint64) zap.Field {
	return zap.Uint64(key, val)
}
func Err(err error) zap.Field { return zap.Error(err) }
func Duration(key string, d time.Duration) zap.Field {
	return zap.Duration(key, d)
}
func Float64(key string, val float64) zap.Field {
	return zap.Float64(key, val)
}
