// Package tracelog implements the "structured debug records keyed by
// subsystem" module from the ssdsim design: a small per-subsystem leveled
// logger that every layer receives as an explicit constructor argument,
// grounded on the log.Printf("... %v", err) call sites in the teacher's
// internal/storage/scheduler.go. There is no package-level logger — the
// design notes call that out explicitly as global mutable state to avoid.
package tracelog

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// Level is the severity of a trace record.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "UNKNOWN"
	}
}

// Logger emits leveled records tagged with a subsystem name ("pal", "ftl",
// "icl", "hostio", ...). A nil *Logger is valid and discards everything,
// so callers that don't care about tracing can pass nil instead of a
// discard-writer logger.
type Logger struct {
	subsystem string
	min       Level
	mu        sync.Mutex
	out       *log.Logger
}

// New creates a Logger for the given subsystem, writing records at or
// above min to w. Pass io.Discard to silence output while still paying
// the (trivial) formatting cost, or pass a nil *Logger (the zero value of
// the pointer, not of the struct) to skip formatting entirely.
func New(subsystem string, min Level, w io.Writer) *Logger {
	return &Logger{
		subsystem: subsystem,
		min:       min,
		out:       log.New(w, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// Discard returns a Logger for subsystem that never produces output.
func Discard(subsystem string) *Logger {
	return New(subsystem, LevelWarn+1, io.Discard)
}

func (l *Logger) log(level Level, format string, args ...any) {
	if l == nil || level < l.min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("[%s] %s %s", level, l.subsystem, fmt.Sprintf(format, args...))
}

// Debug logs a debug-level record.
func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }

// Info logs an info-level record.
func (l *Logger) Info(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Warn logs a warn-level record.
func (l *Logger) Warn(format string, args ...any) { l.log(LevelWarn, format, args...) }

// With returns a Logger for a different subsystem sharing this Logger's
// sink and level, the way a parent simulator hands each layer its own
// tagged logger off one underlying writer.
func (l *Logger) With(subsystem string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{subsystem: subsystem, min: l.min, out: l.out}
}
