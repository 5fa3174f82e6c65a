// Package errs defines the error taxonomy shared by every orchestration
// component. Each kind is a distinct type so callers can narrow with
// errors.As instead of string matching.
package errs

import "fmt"

// PlanSyntaxError wraps a failure to parse a plan document (malformed YAML).
type PlanSyntaxError struct {
	Source string
	Err    error
}

func (e *PlanSyntaxError) Error() string {
	return fmt.Sprintf("plan syntax error in %s: %v", e.Source, e.Err)
}

func (e *PlanSyntaxError) Unwrap() error { return e.Err }

// PlanSchemaError wraps a schema validation failure for a plan document.
type PlanSchemaError struct {
	Source string
	Err    error
}

func (e *PlanSchemaError) Error() string {
	return fmt.Sprintf("plan schema error in %s: %v", e.Source, e.Err)
}

func (e *PlanSchemaError) Unwrap() error { return e.Err }

// UnknownDependency reports a dependencies entry that names a task_id not
// present in the plan.
type UnknownDependency struct {
	TaskID     string
	DependsOn  string
}

func (e *UnknownDependency) Error() string {
	return fmt.Sprintf("task %q depends on unknown task %q", e.TaskID, e.DependsOn)
}

// DuplicateTaskID reports a task_id that appears more than once in a plan.
type DuplicateTaskID struct {
	TaskID string
}

func (e *DuplicateTaskID) Error() string {
	return fmt.Sprintf("duplicate task_id %q", e.TaskID)
}

// CyclicDependency reports a dependency cycle, listing the offending cycle
// in dependency order.
type CyclicDependency struct {
	Cycle []string
}

func (e *CyclicDependency) Error() string {
	return fmt.Sprintf("cyclic dependency: %v", e.Cycle)
}

// DependencyCountExceeded reports a task whose dependency count exceeds the
// per-task limit (20, per spec).
type DependencyCountExceeded struct {
	TaskID string
	Count  int
	Max    int
}

func (e *DependencyCountExceeded) Error() string {
	return fmt.Sprintf("task %q has %d dependencies, exceeding max %d", e.TaskID, e.Count, e.Max)
}

// EnvelopeValidationError wraps an MCP envelope schema or invariant
// violation. Outgoing is true when the orchestrator itself produced the
// invalid envelope (a programmer error); false for a malformed envelope
// received from an agent (a task-level failure).
type EnvelopeValidationError struct {
	Outgoing bool
	Err      error
}

func (e *EnvelopeValidationError) Error() string {
	if e.Outgoing {
		return fmt.Sprintf("outgoing envelope invalid: %v", e.Err)
	}
	return fmt.Sprintf("incoming envelope invalid: %v", e.Err)
}

func (e *EnvelopeValidationError) Unwrap() error { return e.Err }

// DispatchError reports an inability to write a task_assignment envelope to
// an agent's inbox.
type DispatchError struct {
	TaskID string
	Agent  string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s for task %s failed: %v", e.Agent, e.TaskID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// AgentError reports a task-level failure reported by (or inferred about) an
// agent: a failed status, an error envelope, or a missed timeout.
type AgentError struct {
	TaskID string
	Reason string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent error for task %s: %s", e.TaskID, e.Reason)
}

// ConditionError reports a fatal when/unless evaluation failure.
type ConditionError struct {
	TaskID     string
	Expression string
	Err        error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition error for task %s (%q): %v", e.TaskID, e.Expression, e.Err)
}

func (e *ConditionError) Unwrap() error { return e.Err }

// PolicyError reports a malformed alert policy rule or action. It never
// affects task or plan state; callers only log it.
type PolicyError struct {
	Rule string
	Err  error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("alert policy rule %q invalid: %v", e.Rule, e.Err)
}

func (e *PolicyError) Unwrap() error { return e.Err }

// OrchestratorInternal reports a violated invariant, e.g. a task observed in
// an unexpected state transition. It always aborts the enclosing plan.
type OrchestratorInternal struct {
	Detail string
	Err    error
}

func (e *OrchestratorInternal) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("orchestrator internal error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("orchestrator internal error: %s", e.Detail)
}

func (e *OrchestratorInternal) Unwrap() error { return e.Err }
