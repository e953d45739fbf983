// Package logging provides structured, leveled logging for the engine and
// its command-line tools.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents the logging level.
type Level int

const (
	// LevelDebug is the most verbose level.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
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

// ParseLevel parses a string into a Level.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format represents the log output format.
type Format int

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = iota
	// FormatJSON outputs logs in JSON format.
	FormatJSON
)

// ParseFormat parses a string into a Format.
func ParseFormat(s string) Format {
	switch s {
	case "json":
		return FormatJSON
	case "text":
		return FormatText
	default:
		return FormatText
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})
	// Info logs an info message with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})
	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})
	// Error logs an error message with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})
	// WithRequestID returns a new logger with the given request ID.
	WithRequestID(requestID string) Logger
	// WithFields returns a new logger with the given fields.
	WithFields(keysAndValues ...interface{}) Logger
	// SetLevel changes the minimum level this logger logs. It does not
	// affect loggers already derived from it via WithFields/WithRequestID,
	// or the logger it was itself derived from, each holds an independent
	// copy. Meant for config hot-reload (see internal/config.Manager),
	// applied to the one logger instance a long-running command keeps.
	SetLevel(level string)
	// Close stops any background rotation and releases the underlying
	// output file, if one was opened.
	Close() error
}

// logger is the default implementation of Logger.
type logger struct {
	level     Level
	format    Format
	output    io.Writer
	fields    map[string]interface{}
	mu        sync.Mutex
	requestID string

	// rotator owns the file (when Output names one) and archive config
	// shared by every logger produced by clone(), so WithFields/WithRequestID
	// derivatives don't each start their own rotation goroutine.
	rotator *rotator
}

// Config holds the logger configuration.
type Config struct {
	Level  string
	Format string
	Output string

	// Archive, when Enabled, rotates Output (which must name a real file)
	// into a LogArchive once it grows past MaxSize or MaxAge.
	Archive ArchiveConfig
}

// New creates a new Logger with the given configuration.
func New(cfg Config) Logger {
	var output io.Writer
	var file *os.File
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		// Try to open file, fall back to stdout on error
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
			file = f
		}
	}

	l := &logger{
		level:  ParseLevel(cfg.Level),
		format: ParseFormat(cfg.Format),
		output: output,
		fields: make(map[string]interface{}),
	}

	if file != nil && cfg.Archive.Enabled {
		if r, err := newRotator(file, cfg.Archive, l.format); err == nil {
			l.rotator = r
			r.start()
		}
	}

	return l
}

// NewDefault creates a new Logger with default settings.
func NewDefault() Logger {
	return &logger{
		level:  LevelInfo,
		format: FormatText,
		output: os.Stdout,
		fields: make(map[string]interface{}),
	}
}

// NewNop creates a no-op logger that discards all output.
func NewNop() Logger {
	return &nopLogger{}
}

// Debug logs a debug message.
func (l *logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(LevelDebug, msg, keysAndValues...)
}

// Info logs an info message.
func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(LevelInfo, msg, keysAndValues...)
}

// Warn logs a warning message.
func (l *logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(LevelWarn, msg, keysAndValues...)
}

// Error logs an error message.
func (l *logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(LevelError, msg, keysAndValues...)
}

// WithRequestID returns a new logger with the given request ID.
func (l *logger) WithRequestID(requestID string) Logger {
	newLogger := l.clone()
	newLogger.requestID = requestID
	return newLogger
}

// WithFields returns a new logger with the given fields.
func (l *logger) WithFields(keysAndValues ...interface{}) Logger {
	newLogger := l.clone()
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			newLogger.fields[key] = keysAndValues[i+1]
		}
	}
	return newLogger
}

// clone creates a copy of the logger.
func (l *logger) clone() *logger {
	newFields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	return &logger{
		level:     l.level,
		format:    l.format,
		output:    l.output,
		fields:    newFields,
		requestID: l.requestID,
		rotator:   l.rotator,
	}
}

// Close stops the background rotator, if one was started, and closes its
// file. Derived loggers (WithFields, WithRequestID) share the same rotator,
// so only the logger returned by New should have Close called on it.
func (l *logger) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.stop()
}

// SetLevel changes the minimum level logged, guarded by the same mutex that
// protects writes so a concurrent reload can't interleave with an in-flight
// log call.
func (l *logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLevel(level)
}

// log writes a log entry.
func (l *logger) log(level Level, msg string, keysAndValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	// Build the log entry
	entry := make(map[string]interface{})
	entry["ts"] = time.Now().UTC().Format(time.RFC3339)
	entry["level"] = level.String()
	entry["msg"] = msg

	// Add request ID if present
	if l.requestID != "" {
		entry["request_id"] = l.requestID
	}

	// Add base fields
	for k, v := range l.fields {
		entry[k] = v
	}

	// Add key-value pairs
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			entry[key] = keysAndValues[i+1]
		}
	}

	// Format and write
	var output string
	if l.format == FormatJSON {
		data, err := json.Marshal(entry)
		if err != nil {
			output = fmt.Sprintf(`{"ts":"%s","level":"error","msg":"failed to marshal log entry"}`, time.Now().UTC().Format(time.RFC3339))
		} else {
			output = string(data)
		}
	} else {
		output = l.formatText(entry)
	}

	fmt.Fprintln(l.output, output)
}

// formatText formats a log entry as text.
func (l *logger) formatText(entry map[string]interface{}) string {
	ts := entry["ts"]
	level := entry["level"]
	msg := entry["msg"]

	result := fmt.Sprintf("%s [%s] %s", ts, level, msg)

	// Add request ID if present
	if reqID, ok := entry["request_id"]; ok {
		result += fmt.Sprintf(" request_id=%v", reqID)
	}

	// Add other fields
	for k, v := range entry {
		if k == "ts" || k == "level" || k == "msg" || k == "request_id" {
			continue
		}
		result += fmt.Sprintf(" %s=%v", k, v)
	}

	return result
}

// nopLogger is a no-op logger that discards all output.
type nopLogger struct{}

func (n *nopLogger) Debug(_ string, _ ...interface{})          {}
func (n *nopLogger) Info(_ string, _ ...interface{})           {}
func (n *nopLogger) Warn(_ string, _ ...interface{})           {}
func (n *nopLogger) Error(_ string, _ ...interface{})          {}
func (n *nopLogger) WithRequestID(_ string) Logger             { return n }
func (n *nopLogger) WithFields(_ ...interface{}) Logger        { return n }
func (n *nopLogger) SetLevel(_ string)                         {}
func (n *nopLogger) Close() error                              { return nil }
