package envelope

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/archcore/arch/internal/errs"
	"github.com/archcore/arch/internal/plan"
	"github.com/archcore/arch/internal/schema"
)

// Validate checks e against the structural message schema and the semantic
// invariants spec.md §4.2 lists that a JSON Schema cannot express. outgoing
// distinguishes an orchestrator-authored envelope (a failure here is a
// programmer bug) from an agent-authored one (a failure here is a task-level
// error), so callers can wrap the result in errs.EnvelopeValidationError
// appropriately.
func Validate(e *Envelope, outgoing bool) error {
	if err := validateStructural(e); err != nil {
		return &errs.EnvelopeValidationError{Outgoing: outgoing, Err: err}
	}
	if err := validateSemantic(e); err != nil {
		return &errs.EnvelopeValidationError{Outgoing: outgoing, Err: err}
	}
	return nil
}

func validateStructural(e *Envelope) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := schema.ValidateJSON(schema.MessageSchemaPath, raw); err != nil {
		return err
	}
	if !majorVersionCompatible(e.ProtocolVersion) {
		return fmt.Errorf("protocol_version %q is not compatible with %q", e.ProtocolVersion, ProtocolVersion)
	}
	return nil
}

// majorVersionCompatible accepts any 1.x envelope; only a major-version
// mismatch is rejected, per spec.md §6 ("EXTERNAL INTERFACES").
func majorVersionCompatible(v string) bool {
	return strings.HasPrefix(v, "1.")
}

func validateSemantic(e *Envelope) error {
	if e.Type == KindTaskAssignment {
		if e.SenderID != string(plan.AgentARCH) {
			return fmt.Errorf("task_assignment sender_id must be %q, got %q", plan.AgentARCH, e.SenderID)
		}
		if !plan.ValidAgent(plan.Agent(e.RecipientID)) || plan.Agent(e.RecipientID) == plan.AgentARCH {
			return fmt.Errorf("task_assignment recipient_id %q is not a valid worker agent", e.RecipientID)
		}
	}
	if e.Type == KindTaskResult {
		if err := validateResultConsistency(e.Payload); err != nil {
			return err
		}
	}
	return nil
}

// validateResultConsistency enforces spec.md §3's rule: success=true iff
// status="success", and any supplied score must fall in [0,1].
func validateResultConsistency(payload map[string]any) error {
	statusRaw, hasStatus := payload["status"]
	if !hasStatus {
		return nil
	}
	status, _ := statusRaw.(string)

	if successRaw, ok := payload["success"]; ok {
		success, _ := successRaw.(bool)
		if success != (status == string(StatusSuccess)) {
			return fmt.Errorf("success=%v is inconsistent with status=%q", success, status)
		}
	}
	if scoreRaw, ok := payload["score"]; ok {
		score, _ := scoreRaw.(float64)
		if score < 0 || score > 1 {
			return fmt.Errorf("score %v out of range [0,1]", score)
		}
	}
	if notesRaw, ok := payload["notes"]; ok {
		notes, _ := notesRaw.(string)
		if len(notes) > 1000 {
			return fmt.Errorf("notes length %d exceeds 1000 chars", len(notes))
		}
	}
	switch Status(status) {
	case StatusSuccess, StatusPartialSuccess, StatusFailed:
	default:
		return fmt.Errorf("unrecognized status %q", status)
	}
	return nil
}

// RetryTracker enforces retry_count monotonicity across retries of the same
// task_id+trace_id, per spec.md §4.2. It is intentionally separate from
// Validate: monotonicity is a cross-envelope invariant, not a property of a
// single envelope, so it needs caller-held state (the "last seen" value).
type RetryTracker struct {
	lastSeen map[string]int
}

// NewRetryTracker returns an empty tracker.
func NewRetryTracker() *RetryTracker {
	return &RetryTracker{lastSeen: make(map[string]int)}
}

// Observe records e's retry_count and reports an error if it regressed
// relative to the last envelope seen for the same task_id+trace_id.
func (rt *RetryTracker) Observe(e *Envelope) error {
	key := e.TaskID + "|" + e.TraceID
	if prev, ok := rt.lastSeen[key]; ok && e.RetryCount < prev {
		return fmt.Errorf("retry_count regressed for task %s trace %s: %d < %d", e.TaskID, e.TraceID, e.RetryCount, prev)
	}
	rt.lastSeen[key] = e.RetryCount
	return nil
}
