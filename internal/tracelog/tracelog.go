// Package tracelog implements the Trace Logger half of component C7: the
// Task Logger and Plan Trace Logger described in spec.md §4.7. Both are pure
// observers of internal/events — they never drive scheduler state, only
// record it.
package tracelog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/archcore/arch/internal/events"
)

// StateTransition is one entry of a TaskLog's ordered state_transitions
// list, per spec.md §3 ("Task Log").
type StateTransition struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RetryAttempt is one entry of a TaskLog's retry_history.
type RetryAttempt struct {
	RetryCount int       `json:"retry_count"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// ExecutionResult holds a task's terminal outcome, once known.
type ExecutionResult struct {
	Status      string   `json:"status"`
	Score       *float64 `json:"score,omitempty"`
	DurationSec *float64 `json:"duration_sec,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// TaskLog is the per-task structured record spec.md §3 describes. TaskLogger
// keeps one record per task_id, so a task re-dispatched to a fallback agent
// keeps one record across every retry. TraceID and Agent are left empty:
// the transition events the record is built from do not carry them.
type TaskLog struct {
	TraceID    string    `json:"trace_id"`
	PlanID     string    `json:"plan_id"`
	TaskID     string    `json:"task_id"`
	Agent      string    `json:"agent"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"last_updated"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	StateTransitions []StateTransition `json:"state_transitions"`
	RetryHistory     []RetryAttempt    `json:"retry_history"`
	Result           *ExecutionResult  `json:"execution_result,omitempty"`
}

// TaskLogger builds one TaskLog per task it observes and flushes it to disk
// after every transition, per spec.md §4.7 ("flushes it to stable storage
// atomically after each state transition and after each retry").
type TaskLogger struct {
	dir string

	mu   sync.Mutex
	logs map[string]*TaskLog // keyed by task_id; trace_id tracked within
}

// NewTaskLogger returns a TaskLogger that writes one JSON file per task
// under dir (created if absent).
func NewTaskLogger(dir string) (*TaskLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task log dir: %w", err)
	}
	return &TaskLogger{dir: dir, logs: make(map[string]*TaskLog)}, nil
}

// HandleEvent implements events.Subscriber.
func (l *TaskLogger) HandleEvent(_ context.Context, event events.Event) error {
	te, ok := event.(*events.TaskTransitionEvent)
	if !ok {
		return nil
	}
	l.mu.Lock()
	log, exists := l.logs[te.TaskID()]
	if !exists {
		log = &TaskLog{TaskID: te.TaskID(), PlanID: te.PlanID(), CreatedAt: te.Timestamp()}
		l.logs[te.TaskID()] = log
	}
	log.UpdatedAt = te.Timestamp()
	log.StateTransitions = append(log.StateTransitions, StateTransition{
		From: te.From, To: te.To, Reason: te.Reason, Timestamp: te.Timestamp(),
	})
	if te.Type() == events.TaskStarted && log.StartedAt == nil {
		ts := te.Timestamp()
		log.StartedAt = &ts
	}
	if te.Type() == events.TaskRetry {
		log.RetryHistory = append(log.RetryHistory, RetryAttempt{
			RetryCount: te.RetryCount, Reason: te.Reason, Timestamp: te.Timestamp(),
		})
	}
	terminal := isTerminalTaskEvent(te.Type())
	if terminal {
		ts := te.Timestamp()
		log.CompletedAt = &ts
		result := &ExecutionResult{Status: te.To, ErrorMessage: te.Reason}
		if te.Score != nil {
			result.Score = te.Score
			// DurationSec is not set: the event itself doesn't carry
			// wall-clock duration.
		}
		log.Result = result
	}
	snapshot := *log
	snapshot.StateTransitions = append([]StateTransition(nil), log.StateTransitions...)
	snapshot.RetryHistory = append([]RetryAttempt(nil), log.RetryHistory...)
	l.mu.Unlock()

	return l.flush(&snapshot)
}

func isTerminalTaskEvent(t events.Type) bool {
	switch t {
	case events.TaskCompleted, events.TaskFailed, events.TaskSkipped:
		return true
	default:
		return false
	}
}

func (l *TaskLogger) flush(log *TaskLog) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task log: %w", err)
	}
	final := filepath.Join(l.dir, log.TaskID+".json")
	tmp, err := os.CreateTemp(l.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp task log: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp task log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp task log: %w", err)
	}
	return os.Rename(tmp.Name(), final)
}

// Snapshot returns a defensive copy of the in-memory log for taskID, or nil
// if no transition has been observed for it yet.
func (l *TaskLogger) Snapshot(taskID string) *TaskLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	log, ok := l.logs[taskID]
	if !ok {
		return nil
	}
	cp := *log
	return &cp
}
