// Package logging provides leveled console output for the supervisor.
// Lifecycle events (see package events) are the machine-readable record;
// this package is for humans watching a terminal or a log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	pgerrors "github.com/vinayprograms/procguard/errors"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to a writer (stderr by default).
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stderr,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{
		output:   io.Discard,
		minLevel: LevelError,
	}
}

// ParseLevel parses a level name. Unknown names fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger tagged with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   traceID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.traceID != "" {
		fieldStr += " trace_id=" + l.traceID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.output.Write([]byte(line))
}

// --- Lifecycle helpers ---

// SignalReceived logs delivery of an OS signal.
func (l *Logger) SignalReceived(sig string, sequenced bool) {
	l.Info("signal_received", map[string]interface{}{
		"signal":    sig,
		"sequenced": sequenced,
	})
}

// ShutdownStart logs the start of the shutdown sequence.
func (l *Logger) ShutdownStart(sig string, tasks int) {
	l.Info("shutdown_start", map[string]interface{}{
		"signal": sig,
		"tasks":  tasks,
	})
}

// ShutdownComplete logs the end of the shutdown sequence.
func (l *Logger) ShutdownComplete(duration time.Duration, fired bool) {
	l.Info("shutdown_complete", map[string]interface{}{
		"duration": duration.String(),
		"fired":    fired,
	})
}

// TaskOutcome logs a drained task. Cancellation is expected and logged at debug.
func (l *Logger) TaskOutcome(name string, canceled bool, err error) {
	fields := map[string]interface{}{
		"task":     name,
		"canceled": canceled,
	}
	if err != nil && !canceled {
		fields["error"] = err.Error()
		l.Warn("task_failed", fields)
		return
	}
	l.Debug("task_done", fields)
}

// TreeTerminated logs the outcome of a process tree termination.
func (l *Logger) TreeTerminated(root int, descendants, killed int, duration time.Duration) {
	l.Info("tree_terminated", map[string]interface{}{
		"root":        root,
		"descendants": descendants,
		"killed":      killed,
		"duration":    duration.String(),
	})
}

// ProcessEscalated logs a forceful kill after the grace period.
func (l *Logger) ProcessEscalated(pid int, grace time.Duration) {
	l.Warn("process_escalated", map[string]interface{}{
		"pid":   pid,
		"grace": grace.String(),
	})
}

// ParentLost logs the liveness monitor's decision to exit.
func (l *Logger) ParentLost(parent int, reason string, exitCode int) {
	fields := map[string]interface{}{
		"parent":    parent,
		"reason":    reason,
		"exit_code": exitCode,
	}
	if exitCode != 0 {
		l.Error("parent_check_failed", fields)
		return
	}
	l.Warn("parent_lost", fields)
}

// JobObject logs the outcome of cascading-kill group setup.
func (l *Logger) JobObject(name string, err error) {
	fields := map[string]interface{}{
		"job": name,
	}
	switch {
	case err == nil:
		l.Info("job_object_ready", fields)
	case pgerrors.IsCapability(err):
		fields["error"] = err.Error()
		l.Warn("job_object_unavailable", fields)
	default:
		fields["error"] = err.Error()
		l.Error("job_object_failed", fields)
	}
}
