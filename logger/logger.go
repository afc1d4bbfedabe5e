// Package logger provides the leveled, printf-style logger used across the
// bridge. Components receive a *Logger through their constructors; the
// package-level functions write through a shared default instance.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level is the verbosity threshold used by the logger.
//
// Lower values are more verbose.
type Level int32

const (
	// LevelTrace enables per-frame protocol logs.
	LevelTrace Level = iota
	// LevelDebug enables verbose logs intended for debugging.
	LevelDebug
	// LevelInfo enables informational logs (default).
	LevelInfo
	// LevelWarn enables only warnings and errors.
	LevelWarn
	// LevelError enables only error logs.
	LevelError
)

// String returns the level tag written in front of each line.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int32(l))
	}
}

// ParseLevel parses a log level string into a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// sink is shared by a root logger and every logger derived from it via With.
type sink struct {
	mu    sync.Mutex
	out   *log.Logger
	level atomic.Int32
}

// Logger writes leveled lines with an optional component prefix.
type Logger struct {
	sink   *sink
	prefix string
}

// New creates a logger writing to w at the given level.
func New(w io.Writer, level Level) *Logger {
	s := &sink{out: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
	s.level.Store(int32(level))
	return &Logger{sink: s}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return New(io.Discard, LevelError+1)
}

// With returns a logger that shares this logger's output and level but
// prefixes every line with "[component]".
func (l *Logger) With(component string) *Logger {
	prefix := "[" + component + "] "
	if l.prefix != "" {
		prefix = l.prefix + prefix
	}
	return &Logger{sink: l.sink, prefix: prefix}
}

// SetLevel sets the level threshold for this logger and all derived loggers.
func (l *Logger) SetLevel(level Level) {
	l.sink.level.Store(int32(level))
}

// SetOutput replaces the writer used by this logger and all derived loggers.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out.SetOutput(w)
}

// Enabled reports whether a level would be emitted.
func (l *Logger) Enabled(level Level) bool {
	return level >= Level(l.sink.level.Load())
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if l == nil || !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	_ = l.sink.out.Output(3, level.String()+" "+l.prefix+msg)
}

// Tracef logs at TRACE level.
func (l *Logger) Tracef(format string, args ...any) { l.logf(LevelTrace, format, args...) }

// Debugf logs at DEBUG level.
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }

// Infof logs at INFO level.
func (l *Logger) Infof(format string, args ...any) { l.logf(LevelInfo, format, args...) }

// Warnf logs at WARN level.
func (l *Logger) Warnf(format string, args ...any) { l.logf(LevelWarn, format, args...) }

// Errorf logs at ERROR level.
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

var std = New(os.Stderr, LevelInfo)

// Default returns the process-wide default logger.
func Default() *Logger { return std }

// SetLevel sets the default logger's level.
func SetLevel(level Level) { std.SetLevel(level) }

// SetOutput replaces the default logger's writer.
func SetOutput(w io.Writer) { std.SetOutput(w) }

// Infof logs at INFO level on the default logger.
func Infof(format string, args ...any) { std.logf(LevelInfo, format, args...) }

// Warnf logs at WARN level on the default logger.
func Warnf(format string, args ...any) { std.logf(LevelWarn, format, args...) }

// Errorf logs at ERROR level on the default logger.
func Errorf(format string, args ...any) { std.logf(LevelError, format, args...) }
