package tracelog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/archcore/arch/internal/events"
)

// TimelineEvent is one chronological entry of an Execution Trace, ordered by
// Timestamp with task_id ascending breaking ties (spec.md §5).
type TimelineEvent struct {
	Type      events.Type `json:"type"`
	TaskID    string      `json:"task_id,omitempty"`
	Layer     int         `json:"layer,omitempty"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Summary holds the fields computed at plan termination, per spec.md §3
// ("Execution Trace").
type Summary struct {
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	TotalDurationSec    float64   `json:"total_duration_sec"`
	Status              string    `json:"status"`
	TasksCompleted      int       `json:"tasks_completed"`
	TasksFailed         int       `json:"tasks_failed"`
	TasksTimeout        int       `json:"tasks_timeout"`
	TotalRetries        int       `json:"total_retries"`
	AvgTaskScore        *float64  `json:"avg_task_score,omitempty"`
	ParallelismAchieved float64   `json:"parallelism_achieved"`
}

// ExecutionTrace is the per-plan record spec.md §3 describes.
type ExecutionTrace struct {
	PlanID   string          `json:"plan_id"`
	Timeline []TimelineEvent `json:"execution_timeline"`
	Summary  *Summary        `json:"summary,omitempty"`
}

// concurrencySample records the number of tasks in the running state at a
// point in time, used to integrate parallelism_achieved.
type concurrencySample struct {
	at    time.Time
	count int
}

// PlanTraceLogger subscribes to every lifecycle event published during a
// plan's run and assembles the Execution Trace record, flushing it to disk
// at every layer boundary and at termination.
type PlanTraceLogger struct {
	dir string

	mu            sync.Mutex
	trace         *ExecutionTrace
	running       map[string]bool
	samples       []concurrencySample
	retryCounts   int
	scores        []float64
	startedAt     time.Time
}

// NewPlanTraceLogger returns a PlanTraceLogger that writes the trace for
// planID under dir/{planID}.json.
func NewPlanTraceLogger(dir, planID string) (*PlanTraceLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace log dir: %w", err)
	}
	return &PlanTraceLogger{
		dir:     dir,
		trace:   &ExecutionTrace{PlanID: planID},
		running: make(map[string]bool),
	}, nil
}

// HandleEvent implements events.Subscriber.
func (l *PlanTraceLogger) HandleEvent(_ context.Context, event events.Event) error {
	l.mu.Lock()
	switch e := event.(type) {
	case *events.PlanEvent:
		l.handlePlanEvent(e)
	case *events.LayerEvent:
		l.trace.Timeline = append(l.trace.Timeline, TimelineEvent{
			Type: e.Type(), Layer: e.Layer, Timestamp: e.Timestamp(),
		})
	case *events.TaskTransitionEvent:
		l.handleTaskEvent(e)
	}
	l.sortTimeline()
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	return l.flush(snapshot)
}

func (l *PlanTraceLogger) handlePlanEvent(e *events.PlanEvent) {
	l.trace.Timeline = append(l.trace.Timeline, TimelineEvent{
		Type: e.Type(), Reason: e.Status, Timestamp: e.Timestamp(),
	})
	switch e.Type() {
	case events.PlanStarted:
		l.startedAt = e.Timestamp()
	case events.PlanCompleted, events.PlanFailed:
		l.trace.Summary = l.computeSummary(e.Timestamp(), e.Status)
	}
}

func (l *PlanTraceLogger) handleTaskEvent(e *events.TaskTransitionEvent) {
	l.trace.Timeline = append(l.trace.Timeline, TimelineEvent{
		Type: e.Type(), TaskID: e.TaskID(), From: e.From, To: e.To, Reason: e.Reason, Timestamp: e.Timestamp(),
	})

	switch e.Type() {
	case events.TaskStarted:
		l.running[e.TaskID()] = true
		l.sample(e.Timestamp())
	case events.TaskCompleted, events.TaskFailed, events.TaskSkipped, events.TaskTimeout:
		if l.running[e.TaskID()] {
			delete(l.running, e.TaskID())
			l.sample(e.Timestamp())
		}
		if e.Score != nil {
			l.scores = append(l.scores, *e.Score)
		}
	case events.TaskRetry:
		l.retryCounts++
	}
}

// sample records the current running-task count at t, used to integrate
// time-weighted parallelism at termination.
func (l *PlanTraceLogger) sample(t time.Time) {
	l.samples = append(l.samples, concurrencySample{at: t, count: len(l.running)})
}

func (l *PlanTraceLogger) sortTimeline() {
	sort.SliceStable(l.trace.Timeline, func(i, j int) bool {
		a, b := l.trace.Timeline[i], l.trace.Timeline[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.TaskID < b.TaskID
	})
}

func (l *PlanTraceLogger) computeSummary(endTime time.Time, status string) *Summary {
	s := &Summary{
		StartTime: l.startedAt,
		EndTime:   endTime,
		Status:    status,
	}
	if !l.startedAt.IsZero() {
		s.TotalDurationSec = endTime.Sub(l.startedAt).Seconds()
	}
	for _, e := range l.trace.Timeline {
		switch e.Type {
		case events.TaskCompleted:
			s.TasksCompleted++
		case events.TaskFailed:
			s.TasksFailed++
		case events.TaskTimeout:
			s.TasksTimeout++
		}
	}
	s.TotalRetries = l.retryCounts
	if len(l.scores) > 0 {
		var sum float64
		for _, v := range l.scores {
			sum += v
		}
		avg := sum / float64(len(l.scores))
		s.AvgTaskScore = &avg
	}
	s.ParallelismAchieved = l.timeWeightedParallelism(endTime)
	return s
}

// timeWeightedParallelism integrates the running-task-count step function
// recorded in samples over [startedAt, endTime] and divides by the total
// duration, per spec.md §4.7's definition of parallelism_achieved.
func (l *PlanTraceLogger) timeWeightedParallelism(endTime time.Time) float64 {
	if l.startedAt.IsZero() || !endTime.After(l.startedAt) {
		return 0
	}
	total := endTime.Sub(l.startedAt).Seconds()
	if total <= 0 || len(l.samples) == 0 {
		return 0
	}

	var area float64
	prevAt := l.startedAt
	prevCount := 0
	for _, sample := range l.samples {
		area += float64(prevCount) * sample.at.Sub(prevAt).Seconds()
		prevAt = sample.at
		prevCount = sample.count
	}
	area += float64(prevCount) * endTime.Sub(prevAt).Seconds()
	return area / total
}

// TracePath returns the on-disk path a PlanTraceLogger rooted at dir writes
// planID's execution trace to, letting callers point users at the file
// without holding a reference to the logger itself.
func TracePath(dir, planID string) string {
	return filepath.Join(dir, planID+".json")
}

func (l *PlanTraceLogger) snapshotLocked() *ExecutionTrace {
	cp := &ExecutionTrace{PlanID: l.trace.PlanID, Summary: l.trace.Summary}
	cp.Timeline = append([]TimelineEvent(nil), l.trace.Timeline...)
	return cp
}

func (l *PlanTraceLogger) flush(trace *ExecutionTrace) error {
	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal execution trace: %w", err)
	}
	final := filepath.Join(l.dir, trace.PlanID+".json")
	tmp, err := os.CreateTemp(l.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp trace file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp trace file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp trace file: %w", err)
	}
	return os.Rename(tmp.Name(), final)
}

// Snapshot returns a defensive copy of the trace assembled so far.
func (l *PlanTraceLogger) Snapshot() *ExecutionTrace {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}
