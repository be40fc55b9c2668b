package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventRun     EventType = "run"
	EventImport  EventType = "import"
	EventPlan    EventType = "plan"
	EventIntent  EventType = "intent"
	EventExecute EventType = "execute"
	EventSkip    EventType = "skip"
	EventWarning EventType = "warning"
	EventCheck   EventType = "check"
	EventError   EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// ParseLevel converts a level name, defaulting to info
func ParseLevel(s string) EventLevel {
	if _, ok := levelPriority[EventLevel(s)]; ok {
		return EventLevel(s)
	}
	return LevelInfo
}

// Event represents a single audit record
type Event struct {
	Timestamp    time.Time         `json:"ts"`
	Level        EventLevel        `json:"level"`
	Event        EventType         `json:"event"`
	RunID        string            `json:"run_id,omitempty"`
	Backend      string            `json:"backend,omitempty"`
	Song         int               `json:"song,omitempty"`
	Src          string            `json:"src,omitempty"`
	Dest         string            `json:"dest,omitempty"`
	Action       string            `json:"action,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	BytesWritten int64             `json:"bytes_written,omitempty"`
	Duration     int64             `json:"duration_ms,omitempty"` // in milliseconds
	DryRun       bool              `json:"dry_run,omitempty"`
	Error        string            `json:"error,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file. A nil logger discards events.
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
	runID    string
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(outputDir, fmt.Sprintf("events-%s.jsonl", timestamp))

	// Append: two runs in the same second share a file
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// SetRunID stamps every following event with the run id
func (l *EventLogger) SetRunID(id string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.runID = id
	l.mu.Unlock()
}

// Log writes an event to the JSONL file. Intent events are synced so an
// interrupted run leaves them on disk.
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if event.Event == EventIntent {
		return l.file.Sync()
	}
	return nil
}

// LogRun records the start or end of an invocation
func (l *EventLogger) LogRun(command, status string, dryRun bool) error {
	return l.Log(&Event{
		Level:  LevelInfo,
		Event:  EventRun,
		Action: command,
		Reason: status,
		DryRun: dryRun,
	})
}

// LogImport records a song import
func (l *EventLogger) LogImport(song int, src, dest, hash string, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level: level,
		Event: EventImport,
		Song:  song,
		Src:   src,
		Dest:  dest,
		Error: errMsg,
		Extra: map[string]string{"hash": hash},
	})
}

// LogPlan records a plan's totals
func (l *EventLogger) LogPlan(counts map[string]int) error {
	extra := make(map[string]string, len(counts))
	for k, v := range counts {
		extra[k] = fmt.Sprintf("%d", v)
	}
	return l.Log(&Event{
		Level: LevelInfo,
		Event: EventPlan,
		Extra: extra,
	})
}

// LogIntent records an operation before it is performed
func (l *EventLogger) LogIntent(backend, action string, song int, src, dest string, dryRun bool) error {
	return l.Log(&Event{
		Level:   LevelInfo,
		Event:   EventIntent,
		Backend: backend,
		Action:  action,
		Song:    song,
		Src:     src,
		Dest:    dest,
		DryRun:  dryRun,
	})
}

// LogExecute records the outcome of an operation
func (l *EventLogger) LogExecute(backend, action string, song int, src, dest string, bytesWritten int64, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:        level,
		Event:        EventExecute,
		Backend:      backend,
		Action:       action,
		Song:         song,
		Src:          src,
		Dest:         dest,
		BytesWritten: bytesWritten,
		Duration:     duration.Milliseconds(),
		Error:        errMsg,
	})
}

// LogSkip records an operation that was not attempted
func (l *EventLogger) LogSkip(backend, action string, song int, dest, reason string) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventSkip,
		Backend: backend,
		Action:  action,
		Song:    song,
		Dest:    dest,
		Reason:  reason,
	})
}

// LogWarning records a non-fatal finding
func (l *EventLogger) LogWarning(message, backend, name string, song int) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventWarning,
		Backend: backend,
		Song:    song,
		Src:     name,
		Reason:  message,
	})
}

// LogCheck records a verification finding for a local file
func (l *EventLogger) LogCheck(song int, path, problem string) error {
	return l.Log(&Event{
		Level:  LevelWarning,
		Event:  EventCheck,
		Song:   song,
		Src:    path,
		Reason: problem,
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, src string, err error) error {
	return l.Log(&Event{
		Level: LevelError,
		Event: event,
		Src:   src,
		Error: err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
