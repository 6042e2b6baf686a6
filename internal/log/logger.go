// Package log provides structured event logging.
// This file appends JSON events to .agentk/log.jsonl.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event type constants.
const (
	EventSessionStarted  = "session_started"
	EventSessionEnded    = "session_ended"
	EventTaskCreated     = "task_created"
	EventTaskStatus      = "task_status"
	EventAgentSpawned    = "agent_spawned"
	EventAgentExited     = "agent_exited"
	EventAgentKilled     = "agent_killed"
	EventAgentTimeout    = "agent_timeout"
	EventCouncilStage    = "council_stage"
	EventBackendExcluded = "backend_excluded"
	EventCouncilComplete = "council_complete"
)

// LogEvent represents a single structured event written to the log.
type LogEvent struct {
	Time         time.Time              `json:"time"`
	Event        string                 `json:"event"`
	TaskID       string                 `json:"task,omitempty"`
	Agent        string                 `json:"agent,omitempty"`
	SessionID    string                 `json:"session,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Stage        string                 `json:"stage,omitempty"`
	Backend      string                 `json:"backend,omitempty"`
	PID          int                    `json:"pid,omitempty"`
	ExitCode     int                    `json:"exit_code,omitempty"`
	Error        string                 `json:"error,omitempty"`
	InputTokens  int                    `json:"input_tokens,omitempty"`
	OutputTokens int                    `json:"output_tokens,omitempty"`
	DurationMs   int64                  `json:"duration_ms,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// Logger writes append-only JSONL events to a log file.
type Logger struct {
	path string
	mu   sync.Mutex
}

// NewLogger creates a Logger that writes to .agentk/log.jsonl inside dir.
// Creates the .agentk/ directory if it does not already exist.
// Does not truncate an existing log file.
func NewLogger(dir string) (*Logger, error) {
	agentkDir := filepath.Join(dir, ".agentk")
	if err := os.MkdirAll(agentkDir, 0755); err != nil {
		return nil, fmt.Errorf("create .agentk directory: %w", err)
	}

	return &Logger{
		path: filepath.Join(agentkDir, "log.jsonl"),
	}, nil
}

// Path returns the file backing this logger.
func (l *Logger) Path() string {
	return l.path
}

// Append writes a single LogEvent as one JSON line to the log file.
// If event.Time is the zero value, it is automatically set to time.Now().UTC().
// A nil Logger discards the event.
func (l *Logger) Append(event LogEvent) error {
	if l == nil {
		return nil
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal log event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write log event: %w", err)
	}

	return nil
}

// Warn appends the event and reports a failure on stderr instead of
// returning it. Logging is never fatal to the caller.
func (l *Logger) Warn(event LogEvent) {
	if err := l.Append(event); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to log %s: %v\n", event.Event, err)
	}
}

// ReadAll reads and parses all events from the log file.
// Returns an empty slice (not an error) if the file does not exist.
func (l *Logger) ReadAll() ([]LogEvent, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []LogEvent{}, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var events []LogEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event LogEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("parse log line %d: %w", lineNum, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	return events, nil
}

// Tail returns up to n of the most recent events.
func (l *Logger) Tail(n int) ([]LogEvent, error) {
	events, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}
