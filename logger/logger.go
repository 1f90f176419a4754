// Package logger provides a thread-safe, levelled logger backed by zap.
//
// The Logger keeps a small printf-style API (Info, Infof, Error, ...) so call
// sites stay short, while zap handles encoding, sampling-free fast paths and
// structured fields.  Every entry is additionally copied into a Ring so the
// admin dashboard can serve and stream recent log lines.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits all messages.
	LevelDebug Level = iota
	// LevelInfo emits INFO, WARN and ERROR messages.
	LevelInfo
	// LevelWarn emits WARN and ERROR messages.
	LevelWarn
	// LevelError emits only ERROR messages.
	LevelError
)

// ParseLevel converts "debug", "info", "warn" or "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("logger: unknown level %q", s)
}

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Options configures New.
type Options struct {
	Level Level
	// Development switches to the coloured console encoder.
	Development bool
	// Ring receives a copy of every entry.  Optional.
	Ring *Ring
}

// Logger is a structured, levelled logger.
//
// Thread-safety: zap loggers are safe for concurrent use and the level is an
// zap.AtomicLevel, so SetLevel may be called while other goroutines log.
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

// New creates a Logger that writes to stderr at the given minimum level.
func New(opts Options) *Logger {
	level := zap.NewAtomicLevelAt(opts.Level.zap())

	var enc zapcore.Encoder
	if opts.Development {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "timestamp"
		cfg.MessageKey = "message"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	zopts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if opts.Ring != nil {
		zopts = append(zopts, zap.Hooks(opts.Ring.hook))
	}
	return &Logger{
		sugar: zap.New(core, zopts...).Sugar(),
		level: level,
	}
}

// Nop returns a Logger that discards everything.  Handy in tests.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// SetLevel changes the minimum log level at runtime.  Safe for concurrent use.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zap())
}

// With returns a child logger that adds the given key/value pairs to every
// entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...), level: l.level}
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Sync flushes buffered entries.  Errors from syncing stderr are ignored.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}
