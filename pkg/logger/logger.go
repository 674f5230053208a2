// Package logger provides the process-wide zap logger.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu   sync.RWMutex
	base *zap.Logger
)

// Init replaces the process logger. debug enables development encoding and
// DebugLevel output.
func Init(debug bool) error {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	mu.Lock()
	base = l
	mu.Unlock()
	return nil
}

// Base returns the process logger. Before Init it returns a no-op logger so
// library code can log unconditionally.
func Base() *zap.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Sync flushes buffered log entries. Safe to call on shutdown.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
