// Package logx provides leveled, component-prefixed logging for the agent runtime.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents a log severity level.
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
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var (
	minLevel   = LevelInfo
	minLevelMu sync.RWMutex
)

// init reads AGENTD_LOG_LEVEL once at startup.
//
//nolint:gochecknoinits // Required for env var initialization
func init() {
	switch strings.ToLower(os.Getenv("AGENTD_LOG_LEVEL")) {
	case "debug":
		minLevel = LevelDebug
	case "warn":
		minLevel = LevelWarn
	case "error":
		minLevel = LevelError
	}
}

// SetLevel overrides the global minimum log level.
func SetLevel(l Level) {
	minLevelMu.Lock()
	defer minLevelMu.Unlock()
	minLevel = l
}

func enabled(l Level) bool {
	minLevelMu.RLock()
	defer minLevelMu.RUnlock()
	return l >= minLevel
}

// Logger writes leveled log lines prefixed with a component name.
type Logger struct {
	component string
	logger    *log.Logger
}

// NewLogger creates a logger for the given component.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if !enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s", level, l.component, msg)
}

// Debug logs a debug-level message.
func (l *Logger) Debug(format string, args ...any) {
	l.logf(LevelDebug, format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...any) {
	l.logf(LevelInfo, format, args...)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(format string, args ...any) {
	l.logf(LevelWarn, format, args...)
}

// Error logs an error-level message.
func (l *Logger) Error(format string, args ...any) {
	l.logf(LevelError, format, args...)
}
