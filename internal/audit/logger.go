// Package audit records control operations (connection toggles and
// exit-node changes) so `tailview history` can show what was done,
// when, and whether it worked.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action is the control operation that was performed.
type Action string

const (
	// ActionUp is a connection start.
	ActionUp Action = "up"
	// ActionDown is a connection stop.
	ActionDown Action = "down"
	// ActionExitNodeSet enables an exit node.
	ActionExitNodeSet Action = "exit-node-set"
	// ActionExitNodeClear disables the current exit node.
	ActionExitNodeClear Action = "exit-node-clear"
)

// Event is a single audit log entry.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`
	// Timestamp is when the operation completed.
	Timestamp time.Time `json:"timestamp"`
	// Action is the control operation performed.
	Action Action `json:"action"`
	// Target is the affected resource, e.g. the exit-node alias.
	Target string `json:"target,omitempty"`
	// Success indicates whether the operation succeeded.
	Success bool `json:"success"`
	// Error contains failure details when Success is false.
	Error string `json:"error,omitempty"`
	// Duration is how long the operation took.
	Duration time.Duration `json:"duration,omitempty"`
}

// Logger keeps a bounded in-memory event history and appends each
// event to a JSONL file so history survives restarts.
type Logger struct {
	mu      sync.Mutex
	events  []Event
	maxSize int
	path    string
}

// NewLogger creates a logger persisting to path. An empty path keeps
// events in memory only. Existing history is loaded eagerly so queries
// see past sessions.
func NewLogger(path string, maxSize int) (*Logger, error) {
	if maxSize <= 0 {
		maxSize = 500
	}
	l := &Logger{maxSize: maxSize, path: path}
	if path != "" {
		if err := l.load(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Record logs the outcome of one control operation.
func (l *Logger) Record(action Action, target string, duration time.Duration, opErr error) error {
	event := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Target:    target,
		Success:   opErr == nil,
		Duration:  duration,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
	if len(l.events) > l.maxSize {
		l.events = l.events[len(l.events)-l.maxSize:]
	}
	if l.path == "" {
		return nil
	}
	return l.append(event)
}

// Recent returns the newest n events, newest first.
func (l *Logger) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = l.events[len(l.events)-1-i]
	}
	return out
}

// load reads existing JSONL history, ignoring lines that no longer
// parse so a corrupt tail cannot brick the tool.
func (l *Logger) load() error {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if json.Unmarshal(scanner.Bytes(), &e) == nil {
			l.events = append(l.events, e)
		}
	}
	sort.SliceStable(l.events, func(i, j int) bool {
		return l.events[i].Timestamp.Before(l.events[j].Timestamp)
	})
	if len(l.events) > l.maxSize {
		l.events = l.events[len(l.events)-l.maxSize:]
	}
	return scanner.Err()
}

// append writes one event line. Must be called with the lock held.
func (l *Logger) append(event Event) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append history event: %w", err)
	}
	return nil
}
