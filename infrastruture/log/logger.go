// Package logger provides named, colored component loggers backed by zap.
package logger

import (
	"errors"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const colorReset = "\033[0m"

// Logger writes one component's log lines, prefixed with its colored name.
type Logger struct {
	z *zap.Logger
}

// New creates a logger for the named component writing to out.
func New(name, color string, out io.Writer) (*Logger, error) {
	if name == "" {
		return nil, errors.New("logger name is required")
	}
	if out == nil {
		return nil, errors.New("logger output is required")
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeCaller = nil

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(out), zapcore.DebugLevel)
	return &Logger{z: zap.New(core).Named(color + "[" + name + "]" + colorReset)}, nil
}

// Info logs a routine event.
func (l *Logger) Info(msg string) { l.z.Info(msg) }

// Warning logs something unexpected that the component recovered from.
func (l *Logger) Warning(msg string) { l.z.Warn(msg) }

// Error logs a failure.
func (l *Logger) Error(msg string) { l.z.Error(msg) }

// With returns a logger that adds the given fields to every line.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

// Sync flushes buffered output.
func (l *Logger) Sync() error { return l.z.Sync() }
