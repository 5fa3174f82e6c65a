package events

import "time"

// Type enumerates the timeline event categories listed in spec.md §3
// ("Execution Trace") and §4.7.
type Type string

const (
	PlanStarted     Type = "plan_started"
	TaskCreated     Type = "task_created"
	TaskWaiting     Type = "task_waiting"
	TaskReady       Type = "task_ready"
	TaskSkipped     Type = "task_skipped"
	TaskStarted     Type = "task_started"
	TaskCompleted   Type = "task_completed"
	TaskFailed      Type = "task_failed"
	TaskTimeout     Type = "task_timeout"
	TaskRetry       Type = "task_retry"
	LayerStarted    Type = "layer_started"
	LayerCompleted  Type = "layer_completed"
	PlanCompleted   Type = "plan_completed"
	PlanFailed      Type = "plan_failed"
)

// Event is the common interface satisfied by every concrete event type
// published on the bus.
type Event interface {
	Type() Type
	PlanID() string
	TaskID() string
	Timestamp() time.Time
}

type base struct {
	typ       Type
	planID    string
	taskID    string
	timestamp time.Time
}

func (b base) Type() Type           { return b.typ }
func (b base) PlanID() string       { return b.planID }
func (b base) TaskID() string       { return b.taskID }
func (b base) Timestamp() time.Time { return b.timestamp }

func newBase(typ Type, planID, taskID string) base {
	return base{typ: typ, planID: planID, taskID: taskID, timestamp: time.Now()}
}

// PlanEvent fires for plan_started/plan_completed/plan_failed.
type PlanEvent struct {
	base
	Status string
}

// NewPlanEvent constructs a PlanEvent.
func NewPlanEvent(typ Type, planID, status string) *PlanEvent {
	return &PlanEvent{base: newBase(typ, planID, ""), Status: status}
}

// LayerEvent fires for layer_started/layer_completed.
type LayerEvent struct {
	base
	Layer int
}

// NewLayerEvent constructs a LayerEvent.
func NewLayerEvent(typ Type, planID string, layer int) *LayerEvent {
	return &LayerEvent{base: newBase(typ, planID, ""), Layer: layer}
}

// TaskTransitionEvent fires for every task state-machine transition
// (task_created, task_waiting, task_ready, task_started, task_completed,
// task_failed, task_timeout, task_retry, task_skipped).
type TaskTransitionEvent struct {
	base
	From       string
	To         string
	Reason     string
	RetryCount int
	Score      *float64
	Success    *bool
}

// NewTaskTransitionEvent constructs a TaskTransitionEvent.
func NewTaskTransitionEvent(typ Type, planID, taskID, from, to, reason string, retryCount int) *TaskTransitionEvent {
	return &TaskTransitionEvent{
		base:       newBase(typ, planID, taskID),
		From:       from,
		To:         to,
		Reason:     reason,
		RetryCount: retryCount,
	}
}

// AgentMessageEvent fires whenever the orchestrator observes an inbound or
// outbound MCP envelope, driving the alert evaluator (internal/alert).
type AgentMessageEvent struct {
	base
	Direction   string // "inbound" | "outbound"
	EnvelopeKind string
	SenderID    string
	RecipientID string
	RetryCount  int
	Status      string
	Score       *float64
	DurationSec *float64
	ErrorCode   string
}

// NewAgentMessageEvent constructs an AgentMessageEvent.
func NewAgentMessageEvent(planID, taskID string) *AgentMessageEvent {
	return &AgentMessageEvent{base: newBase("agent_message", planID, taskID)}
}
