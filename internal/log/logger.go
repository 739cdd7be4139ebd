// Package log provides the structured event journal and diagnostic logging.
// This file appends JSON events to .agentlock/log.jsonl.
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

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Event type constants.
const (
	EventLockAcquired         = "lock_acquired"
	EventLockBlocked          = "lock_blocked"
	EventLockReleased         = "lock_released"
	EventLockReleaseFailed    = "lock_release_failed"
	EventLockRollback         = "lock_rollback"
	EventLocksExpired         = "locks_expired"
	EventTaskStarted          = "task_started"
	EventAgentCompleted       = "agent_completed"
	EventOrchestratorNotified = "orchestrator_notified"
)

// LogEvent represents a single structured event written to the journal.
type LogEvent struct {
	ID        string         `json:"id"`
	Time      time.Time      `json:"time"`
	Event     string         `json:"event"`
	SessionID string         `json:"session,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Path      string         `json:"path,omitempty"`
	HeldBy    string         `json:"held_by,omitempty"`
	Count     int            `json:"count,omitempty"`
	Task      string         `json:"task,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Logger writes append-only JSONL events to a log file.
type Logger struct {
	path string
	mu   sync.Mutex
}

// NewLogger creates a Logger that writes to .agentlock/log.jsonl inside dir.
// Creates the .agentlock/ directory if it does not already exist.
// Does not truncate an existing log file.
func NewLogger(dir string) (*Logger, error) {
	stateDir := filepath.Join(dir, ".agentlock")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create .agentlock directory: %w", err)
	}

	return &Logger{
		path: filepath.Join(stateDir, "log.jsonl"),
	}, nil
}

// LockJournal takes the exclusive flock that serialises writers of the
// journal at path and returns the function that releases it. Appends and
// rewrites of the same journal from any process wait on each other.
func LockJournal(path string) (unlock func(), err error) {
	fl := flock.New(path + ".lock")
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("lock journal: %w", err)
	}
	return func() { _ = fl.Unlock() }, nil
}

// Path returns the journal file path.
func (l *Logger) Path() string {
	return l.path
}

// Append writes a single LogEvent as one JSON line to the log file.
// If event.Time is the zero value, it is automatically set to time.Now().UTC(),
// and an empty ID is filled with a random UUID.
// The write holds the journal flock, so it cannot land between the read and
// the rename of a concurrent rewrite.
func (l *Logger) Append(event LogEvent) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal log event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	unlock, err := LockJournal(l.path)
	if err != nil {
		return err
	}
	defer unlock()

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
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
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

// ReadSession returns the last limit events recorded for sessionID, oldest
// first. A limit of zero or less returns every matching event.
func (l *Logger) ReadSession(sessionID string, limit int) ([]LogEvent, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}

	var matched []LogEvent
	for _, e := range all {
		if e.SessionID == sessionID {
			matched = append(matched, e)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}
