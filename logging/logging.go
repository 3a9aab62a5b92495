// Package logging provides real-time console output for the queue and the
// automation engine. The JSON stores are THE durable record; this package
// only exists so an operator tailing run-engine can see what is happening.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	runID     string
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
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		runID:     l.runID,
	}
}

// WithRunID returns a new logger tagged with an engine run ID.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		runID:     runID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
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

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.runID != "" {
		fieldStr += " run=" + l.runID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Domain logging methods ---
// Called by the coordinator and the engine at the moments an operator
// tailing the loop cares about.

// TaskEnqueued logs a newly queued task.
func (l *Logger) TaskEnqueued(id, description string) {
	l.Info("task_enqueued", map[string]interface{}{
		"task": id,
		"desc": truncate(description, 80),
	})
}

// TaskDuplicate logs a deduplicated enqueue attempt.
func (l *Logger) TaskDuplicate(existingID string) {
	l.Info("task_duplicate", map[string]interface{}{
		"task": existingID,
	})
}

// TaskTransition logs a status change.
func (l *Logger) TaskTransition(id, from, to string) {
	l.Info("task_transition", map[string]interface{}{
		"task": id,
		"from": from,
		"to":   to,
	})
}

// TaskBlocked logs a precondition failure.
func (l *Logger) TaskBlocked(id, reason string) {
	l.Warn("task_blocked", map[string]interface{}{
		"task":   id,
		"reason": reason,
	})
}

// TaskCompleted logs a completed task with its execution time.
func (l *Logger) TaskCompleted(id, status string, execution time.Duration) {
	l.Info("task_completed", map[string]interface{}{
		"task":     id,
		"status":   status,
		"duration": execution.String(),
	})
}

// RuleFired logs a trigger firing.
func (l *Logger) RuleFired(ruleKey, triggerType, file, key string) {
	l.Info("rule_fired", map[string]interface{}{
		"rule":    ruleKey,
		"trigger": triggerType,
		"file":    file,
		"key":     key,
	})
}

// ActionDispatched logs an action dispatch.
func (l *Logger) ActionDispatched(ruleKey, tool, action string, err error) {
	fields := map[string]interface{}{
		"rule":   ruleKey,
		"tool":   tool,
		"action": action,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("action_error", fields)
	} else {
		l.Debug("action_done", fields)
	}
}

// CycleComplete logs the end of an engine polling cycle.
func (l *Logger) CycleComplete(duration time.Duration, fired int) {
	l.Debug("cycle_complete", map[string]interface{}{
		"duration": duration.String(),
		"fired":    fired,
	})
}

// LockStale logs forcible clearing of an abandoned sentinel.
func (l *Logger) LockStale(resource string, pid int, age time.Duration) {
	l.Warn("lock_stale_cleared", map[string]interface{}{
		"resource": resource,
		"pid":      pid,
		"age":      age.String(),
	})
}

// StoreError logs a per-file store failure that the loop survives.
func (l *Logger) StoreError(path string, err error) {
	l.Error("store_error", map[string]interface{}{
		"path":  path,
		"error": err.Error(),
	})
}

// SpawnStarted logs a worker spawn.
func (l *Logger) SpawnStarted(pid, taskCount int) {
	l.Info("worker_spawned", map[string]interface{}{
		"pid":   pid,
		"tasks": taskCount,
	})
}

// truncate shortens a string for log lines.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
