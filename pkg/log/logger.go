// Package log provides the structured logging facade used across syncd.
//
// It exposes a small leveled Logger interface with typed Fields, backed by
// the standard library's slog. Components receive an injected Logger tagged
// with Component(...) rather than reaching for a global.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents the severity of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// Field is a typed key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Str builds a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int builds an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 builds an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Bool builds a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Err builds an error field under the conventional "error" key.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Component tags log entries with the emitting component's name.
func Component(name string) Field { return Field{Key: "component", Value: name} }

// Any builds a field with an arbitrary value.
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// Logger is the leveled structured logging interface for syncd components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// With returns a child logger carrying the additional fields.
	With(fields ...Field) Logger
}

// Options configure a Logger built by NewLogger.
type Options struct {
	Level  Level
	Format string // "text" (default) or "json"
	Output io.Writer
}

type baseLogger struct {
	sl *slog.Logger
}

// NewLogger builds a Logger from the provided options.
func NewLogger(opts Options) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: toSlogLevel(opts.Level)}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(out, hopts)
	} else {
		h = slog.NewTextHandler(out, hopts)
	}
	return &baseLogger{sl: slog.New(h)}
}

// NewNop returns a Logger that discards everything. Useful in tests.
func NewNop() Logger {
	return &baseLogger{sl: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func toSlogLevel(l Level) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel, FatalLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func attrs(fields []Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func (b *baseLogger) Debug(msg string, fields ...Field) { b.sl.Debug(msg, attrs(fields)...) }
func (b *baseLogger) Info(msg string, fields ...Field)  { b.sl.Info(msg, attrs(fields)...) }
func (b *baseLogger) Warn(msg string, fields ...Field)  { b.sl.Warn(msg, attrs(fields)...) }
func (b *baseLogger) Error(msg string, fields ...Field) { b.sl.Error(msg, attrs(fields)...) }

// Fatal logs at error level and exits the process. Reserved for unrecoverable
// startup failures and integrity violations that must halt the worker.
func (b *baseLogger) Fatal(msg string, fields ...Field) {
	b.sl.Error(msg, attrs(fields)...)
	os.Exit(1)
}

func (b *baseLogger) With(fields ...Field) Logger {
	return &baseLogger{sl: b.sl.With(attrs(fields)...)}
}
