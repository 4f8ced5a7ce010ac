// Package logging provides the injected logging interface used by the storage
// and cache packages, replacing any notion of a process-wide log level.
package logging

import "go.uber.org/zap"

// Logger is the minimal surface storage/cache components need. Passing one in
// at construction time keeps the core free of global logging state.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// zapLogger adapts a named *zap.Logger to the Logger interface.
type zapLogger struct {
	l *zap.Logger
}

// New wraps base with a component name, mirroring how the original core
// tagged each subsystem's logger ("disk-manager", "buffer-pool", ...).
func New(base *zap.Logger, component string) Logger {
	return &zapLogger{l: base.Named(component)}
}

func (z *zapLogger) Debug(msg string, fields ...zap.Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...zap.Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...zap.Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...zap.Field) { z.l.Error(msg, fields...) }

// noop discards everything. Used by tests and by callers that don't want a
// logging dependency at all.
type noop struct{}

// NewNop returns a Logger that discards all output.
func NewNop() Logger { return noop{} }

func (noop) Debug(string, ...zap.Field) {}
func (noop) Info(string, ...zap.Field)  {}
func (noop) Warn(string, ...zap.Field)  {}
func (noop) Error(string, ...zap.Field) {}
