package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Logger provides a unified logging interface. Messages are written as
// "message key=value key=value" pairs so log lines stay greppable.
type Logger struct {
	level     LogLevel
	component string
	logger    *log.Logger
	file      *os.File
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Init initializes the default logger writing to the given file path.
// Pass persist=false to truncate the previous session's log.
func Init(level LogLevel, logFile string, persist bool) error {
	logger, err := New(level, logFile, persist)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	mu.Lock()
	defaultLogger = logger
	mu.Unlock()
	return nil
}

// New creates a new Logger instance writing to logFile
func New(level LogLevel, logFile string, persist bool) (*Logger, error) {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if persist {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(logFile, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		level:  level,
		logger: log.New(file, "", log.LstdFlags),
		file:   file,
	}, nil
}

// NewWithWriter creates a Logger writing to an arbitrary writer (useful for tests)
func NewWithWriter(level LogLevel, w io.Writer) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(w, "", log.LstdFlags),
	}
}

// WithComponent returns a logger tagged with a component name. Falls back to a
// stderr logger when the default logger has not been initialized.
func WithComponent(component string) *Logger {
	mu.RLock()
	base := defaultLogger
	mu.RUnlock()

	if base == nil {
		return &Logger{
			level:     LevelInfo,
			component: component,
			logger:    log.New(os.Stderr, "", log.LstdFlags),
		}
	}

	return &Logger{
		level:     base.level,
		component: component,
		logger:    base.logger,
		file:      base.file,
	}
}

// ParseLevel converts a string level to LogLevel
func ParseLevel(levelStr string) LogLevel {
	switch levelStr {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return level >= l.level
}

func (l *Logger) log(level LogLevel, msg string, keysAndValues ...any) {
	if !l.shouldLog(level) {
		return
	}

	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(level.String())
	sb.WriteString("]")
	if l.component != "" {
		sb.WriteString(" [")
		sb.WriteString(l.component)
		sb.WriteString("]")
	}
	sb.WriteString(" ")
	sb.WriteString(msg)

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		sb.WriteString(fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1]))
	}
	// Odd trailing value, log it anyway rather than dropping it
	if len(keysAndValues)%2 == 1 {
		sb.WriteString(fmt.Sprintf(" %v", keysAndValues[len(keysAndValues)-1]))
	}

	line := sb.String()
	l.logger.Print(line)

	if level >= LevelError {
		fmt.Fprintln(os.Stderr, line)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.log(LevelDebug, msg, keysAndValues...)
}

// Info logs an info message
func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.log(LevelInfo, msg, keysAndValues...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.log(LevelWarn, msg, keysAndValues...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.log(LevelError, msg, keysAndValues...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, keysAndValues ...any) {
	l.log(LevelFatal, msg, keysAndValues...)
	os.Exit(1)
}

// SetOutput sets the output writer for the logger (useful for testing)
func (l *Logger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

// Package-level convenience functions using the default logger

// Debug logs a debug message using the default logger
func Debug(msg string, keysAndValues ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if defaultLogger == nil {
		return
	}
	defaultLogger.Debug(msg, keysAndValues...)
}

// Info logs an info message using the default logger
func Info(msg string, keysAndValues ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if defaultLogger == nil {
		return
	}
	defaultLogger.Info(msg, keysAndValues...)
}

// Warn logs a warning message using the default logger
func Warn(msg string, keysAndValues ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if defaultLogger == nil {
		return
	}
	defaultLogger.Warn(msg, keysAndValues...)
}

// Error logs an error message using the default logger
func Error(msg string, keysAndValues ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if defaultLogger == nil {
		return
	}
	defaultLogger.Error(msg, keysAndValues...)
}

// Close closes the default logger
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if defaultLogger != nil {
		return defaultLogger.Close()
	}
	return nil
}
