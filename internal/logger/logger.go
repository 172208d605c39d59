package logger

import (
	"errors"
	"os"
	"sync"
)

// EnvLevel overrides the configured level when set
const EnvLevel = "CARGOBACK_LOG_LEVEL"

var (
	mu            sync.RWMutex
	defaultLogger Logger
)

// Init installs the global logger. It fails if one is already installed.
func Init(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger != nil {
		return errors.New("logger already initialized; call Shutdown() before re-initializing")
	}
	if level, ok := os.LookupEnv(EnvLevel); ok {
		config.Level = ParseLevel(level)
	}

	l, err := NewSlogLogger(config)
	if err != nil {
		return err
	}
	defaultLogger = l
	return nil
}

// Get returns the global logger, or a NullLogger before Init
func Get() Logger {
	mu.RLock()
	defer mu.RUnlock()

	if defaultLogger == nil {
		return NullLogger{}
	}
	return defaultLogger
}

// With returns a child of the global logger
func With(args ...any) Logger {
	return Get().With(args...)
}

// Sync flushes the global logger
func Sync() error {
	return Get().Sync()
}

// Shutdown closes the global logger's outputs. Get returns a NullLogger afterwards.
func Shutdown() error {
	mu.Lock()
	l := defaultLogger
	defaultLogger = nil
	mu.Unlock()

	if l == nil {
		return nil
	}
	return l.Shutdown()
}

// NullLogger discards everything
type NullLogger struct{}

func (NullLogger) Debug(msg string, args ...any) {}
func (NullLogger) Info(msg string, args ...any)  {}
func (NullLogger) Warn(msg string, args ...any)  {}
func (NullLogger) Error(msg string, args ...any) {}
func (n NullLogger) With(args ...any) Logger     { return n }
func (NullLogger) Sync() error                   { return nil }
func (NullLogger) Shutdown() error               { return nil }
