// Package logging provides categorized file-based logging for sovereign.
// Logs are written to <data>/logs/ with a separate file per category.
// Logging is a no-op unless debug mode is enabled at initialization.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup and shutdown
	CategorySession    Category = "session"    // Session lifecycle
	CategoryDispatch   Category = "dispatch"   // Turn loop, routing, state transitions
	CategoryIntent     Category = "intent"     // Intent classification
	CategoryAffect     Category = "affect"     // Affect engine decay/impulses
	CategoryMemory     Category = "memory"     // Turn window, episodic and fact stores
	CategoryEmbedding  Category = "embedding"  // Embedding engine
	CategoryAdapter    Category = "adapter"    // Node adapter traffic
	CategoryTelemetry  Category = "telemetry"  // Hardware telemetry
	CategoryReflection Category = "reflection" // Idle reflection, dream proposals
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	debugMode bool
	logLevel  = LevelInfo
)

// Initialize sets up the logging directory. Should be called once at startup.
// When debug is false every call becomes a silent no-op.
func Initialize(dataDir string, debug bool, level string) error {
	loggersMu.Lock()
	debugMode = debug
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "info", "":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	loggersMu.Unlock()

	if !debug {
		return nil
	}
	if dataDir == "" {
		return fmt.Errorf("data directory required")
	}

	loggersMu.Lock()
	logsDir = filepath.Join(dataDir, "logs")
	loggersMu.Unlock()

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== sovereign logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", level)
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	loggersMu.RLock()
	defer loggersMu.RUnlock()
	return debugMode
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled.
func Get(category Category) *Logger {
	loggersMu.RLock()
	enabled := debugMode && logsDir != ""
	if !enabled {
		loggersMu.RUnlock()
		return &Logger{category: category}
	}
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a matter of deleting old files.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Timer measures operation duration for performance logging.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds the threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if debug mode is disabled
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// Session logs to the session category.
func Session(format string, args ...interface{}) {
	Get(CategorySession).Info(format, args...)
}

// Dispatch logs to the dispatch category.
func Dispatch(format string, args ...interface{}) {
	Get(CategoryDispatch).Info(format, args...)
}

// DispatchDebug logs debug to the dispatch category.
func DispatchDebug(format string, args ...interface{}) {
	Get(CategoryDispatch).Debug(format, args...)
}

// Intent logs to the intent category.
func Intent(format string, args ...interface{}) {
	Get(CategoryIntent).Info(format, args...)
}

// IntentDebug logs debug to the intent category.
func IntentDebug(format string, args ...interface{}) {
	Get(CategoryIntent).Debug(format, args...)
}

// Affect logs to the affect category.
func Affect(format string, args ...interface{}) {
	Get(CategoryAffect).Info(format, args...)
}

// AffectDebug logs debug to the affect category.
func AffectDebug(format string, args ...interface{}) {
	Get(CategoryAffect).Debug(format, args...)
}

// Memory logs to the memory category.
func Memory(format string, args ...interface{}) {
	Get(CategoryMemory).Info(format, args...)
}

// MemoryDebug logs debug to the memory category.
func MemoryDebug(format string, args ...interface{}) {
	Get(CategoryMemory).Debug(format, args...)
}

// Embedding logs to the embedding category.
func Embedding(format string, args ...interface{}) {
	Get(CategoryEmbedding).Info(format, args...)
}

// EmbeddingDebug logs debug to the embedding category.
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// Adapter logs to the adapter category.
func Adapter(format string, args ...interface{}) {
	Get(CategoryAdapter).Info(format, args...)
}

// AdapterDebug logs debug to the adapter category.
func AdapterDebug(format string, args ...interface{}) {
	Get(CategoryAdapter).Debug(format, args...)
}

// Telemetry logs to the telemetry category.
func Telemetry(format string, args ...interface{}) {
	Get(CategoryTelemetry).Info(format, args...)
}

// TelemetryDebug logs debug to the telemetry category.
func TelemetryDebug(format string, args ...interface{}) {
	Get(CategoryTelemetry).Debug(format, args...)
}

// Reflection logs to the reflection category.
func Reflection(format string, args ...interface{}) {
	Get(CategoryReflection).Info(format, args...)
}

// ReflectionDebug logs debug to the reflection category.
func ReflectionDebug(format string, args ...interface{}) {
	Get(CategoryReflection).Debug(format, args...)
}
