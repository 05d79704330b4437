package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tis24dev/flowsave/internal/types"
)

const redactedMarker = "***"

// Logger is a leveled console logger with an optional plain-text mirror file.
// Secrets registered with Redact never reach either sink.
type Logger struct {
	mu         sync.Mutex
	level      types.LogLevel
	useColor   bool
	output     io.Writer
	file       *os.File
	timeFormat string
	now        func() time.Time
	secrets    []string
	counts     map[types.LogLevel]int
}

// New creates a new logger writing to stdout.
func New(level types.LogLevel, useColor bool) *Logger {
	return &Logger{
		level:      level,
		useColor:   useColor,
		output:     os.Stdout,
		timeFormat: "2006-01-02 15:04:05",
		now:        time.Now,
		counts:     make(map[types.LogLevel]int),
	}
}

// SetOutput sets the console writer. nil restores stdout.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	l.output = w
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level types.LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() types.LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// UsesColor returns whether color output is enabled.
func (l *Logger) UsesColor() bool {
	return l.useColor
}

// Redact registers a secret (e.g. an access token) that is replaced with
// "***" in every subsequent line. Empty values are ignored.
func (l *Logger) Redact(secret string) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.secrets {
		if s == secret {
			return
		}
	}
	l.secrets = append(l.secrets, secret)
}

// OpenLogFile mirrors every line (without colors) into logPath.
func (l *Logger) OpenLogFile(logPath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}
	l.file = file
	return nil
}

// CloseLogFile closes the mirror file, if any.
func (l *Logger) CloseLogFile() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// LogFilePath returns the path of the mirror file, or "".
func (l *Logger) LogFilePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// HasWarnings returns true if at least one warning was logged.
func (l *Logger) HasWarnings() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[types.LogLevelWarning] > 0
}

// HasErrors returns true if at least one error or critical message was logged.
func (l *Logger) HasErrors() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[types.LogLevelError]+l.counts[types.LogLevelCritical] > 0
}

// Count returns how many messages were logged at level.
func (l *Logger) Count(level types.LogLevel) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[level]
}

var levelColors = map[types.LogLevel]string{
	types.LogLevelDebug:    "\033[36m",
	types.LogLevelInfo:     "\033[32m",
	types.LogLevelWarning:  "\033[33m",
	types.LogLevelError:    "\033[31m",
	types.LogLevelCritical: "\033[1;31m",
}

func (l *Logger) write(level types.LogLevel, label, color, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level {
		return
	}
	l.counts[level]++

	if label == "" {
		label = level.String()
	}
	message := l.scrub(fmt.Sprintf(format, args...))
	timestamp := l.now().Format(l.timeFormat)

	if l.useColor {
		if color == "" {
			color = levelColors[level]
		}
		fmt.Fprintf(l.output, "[%s] %s%-8s\033[0m %s\n", timestamp, color, label, message)
	} else {
		fmt.Fprintf(l.output, "[%s] %-8s %s\n", timestamp, label, message)
	}
	if l.file != nil {
		fmt.Fprintf(l.file, "[%s] %-8s %s\n", timestamp, label, message)
	}
}

func (l *Logger) scrub(message string) string {
	for _, s := range l.secrets {
		message = strings.ReplaceAll(message, s, redactedMarker)
	}
	return message
}

// Debug writes a debug log.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(types.LogLevelDebug, "", "", format, args...)
}

// Info writes an informational log
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(types.LogLevelInfo, "", "", format, args...)
}

// Phase marks the start of an orchestration state.
func (l *Logger) Phase(format string, args ...interface{}) {
	l.write(types.LogLevelInfo, "PHASE", "\033[34m", format, args...)
}

// Step writes an informational log with STEP label
func (l *Logger) Step(format string, args ...interface{}) {
	l.write(types.LogLevelInfo, "STEP", "\033[34m", format, args...)
}

// Skip writes an informational log with SKIP label (for disabled/ignored elements)
func (l *Logger) Skip(format string, args ...interface{}) {
	l.write(types.LogLevelInfo, "SKIP", "\033[35m", format, args...)
}

// DryRun logs an action that was not performed because of dry-run mode.
func (l *Logger) DryRun(format string, args ...interface{}) {
	l.write(types.LogLevelInfo, "DRY-RUN", "\033[35m", format, args...)
}

// Warning writes a warning log.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.write(types.LogLevelWarning, "", "", format, args...)
}

// Error writes an error log.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(types.LogLevelError, "", "", format, args...)
}

// Critical writes a critical log.
func (l *Logger) Critical(format string, args ...interface{}) {
	l.write(types.LogLevelCritical, "", "", format, args...)
}

var defaultLogger = New(types.LogLevelInfo, true)

// SetDefaultLogger sets the default logger.
func SetDefaultLogger(logger *Logger) {
	if logger != nil {
		defaultLogger = logger
	}
}

// GetDefaultLogger returns the default logger.
func GetDefaultLogger() *Logger {
	return defaultLogger
}

// Discard returns a logger that drops everything; handy in tests and for
// callers that pass nil.
func Discard() *Logger {
	l := New(types.LogLevelNone, false)
	l.SetOutput(io.Discard)
	return l
}
