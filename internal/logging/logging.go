// Package logging provides the single stderr logging surface used across
// the daemon, so components don't each reinvent fmt.Fprintf plumbing.
package logging

import (
	"fmt"
	"os"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Logger writes leveled, component-tagged lines to stderr.
type Logger struct {
	component string
	minLevel  Level
	mutex     sync.Mutex
	out       *os.File
}

var globalMinLevel = LevelInfo

// SetGlobalLevel sets the minimum level for every Logger created afterwards
// and for loggers already handed out (checked at write time).
func SetGlobalLevel(level Level) {
	globalMinLevel = level
}

// New creates a Logger tagged with component, e.g. "reconciler" or "store".
func New(component string) *Logger {
	return &Logger{component: component, out: os.Stderr}
}

func (l *Logger) write(level Level, format string, args ...interface{}) {
	if level < globalMinLevel {
		return
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.out, "%s [%s] %s: %s\n", ts, level.String(), l.component, msg)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.write(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.write(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.write(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.write(LevelError, format, args...) }
