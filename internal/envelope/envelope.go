// Package envelope implements the Message Envelope & Schema Validator
// component (C2): encoding, schema validation, and semantic-invariant
// checking for MCP messages exchanged between the orchestrator and agents.
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the version this core emits. It accepts any 1.x
// envelope on receipt; a major-version mismatch is a validation failure.
const ProtocolVersion = "1.3"

// Kind enumerates the closed set of MCP envelope types.
type Kind string

const (
	KindTaskAssignment Kind = "task_assignment"
	KindTaskResult     Kind = "task_result"
	KindError          Kind = "error"
	KindNeedsInput     Kind = "needs_input"
	KindTaskStatus     Kind = "task_status"
)

// Status enumerates the closed set of task_result payload statuses.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
)

// Envelope is the canonical MCP message, mirroring spec.md §3 ("Message
// Envelope (MCP)").
type Envelope struct {
	Type            Kind           `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SenderID        string         `json:"sender_id"`
	RecipientID     string         `json:"recipient_id"`
	Timestamp       time.Time      `json:"timestamp"`
	TaskID          string         `json:"task_id"`
	TraceID         string         `json:"trace_id,omitempty"`
	RetryCount      int            `json:"retry_count"`
	MaxAgeSeconds   *int           `json:"max_age_seconds,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	Payload         map[string]any `json:"payload"`
}

// Expired reports whether e has a configured TTL and that TTL has elapsed
// since Timestamp, relative to now.
func (e *Envelope) Expired(now time.Time) bool {
	if e.MaxAgeSeconds == nil {
		return false
	}
	return now.Sub(e.Timestamp) > time.Duration(*e.MaxAgeSeconds)*time.Second
}

// EncodeOption customizes a newly constructed Envelope.
type EncodeOption func(*Envelope)

// WithTraceID pins the envelope's trace_id rather than generating a fresh
// one, used when a retry of an existing task_assignment reuses its
// predecessor's trace_id.
func WithTraceID(traceID string) EncodeOption {
	return func(e *Envelope) { e.TraceID = traceID }
}

// WithRetryCount sets retry_count explicitly (default 0).
func WithRetryCount(n int) EncodeOption {
	return func(e *Envelope) { e.RetryCount = n }
}

// WithContext attaches plan/run context to the envelope.
func WithContext(ctx map[string]any) EncodeOption {
	return func(e *Envelope) { e.Context = ctx }
}

// WithMaxAge sets the envelope's TTL in seconds, after which the router
// archives it under expired/ rather than delivering it.
func WithMaxAge(seconds int) EncodeOption {
	return func(e *Envelope) { e.MaxAgeSeconds = &seconds }
}

// Encode constructs a well-formed Envelope. When no trace_id is supplied via
// WithTraceID, a fresh one is generated: the first dispatch of a task starts
// a new trace, and retries are expected to pass the prior trace_id back in.
func Encode(kind Kind, sender, recipient, taskID string, payload map[string]any, opts ...EncodeOption) *Envelope {
	e := &Envelope{
		Type:            kind,
		ProtocolVersion: ProtocolVersion,
		SenderID:        sender,
		RecipientID:     recipient,
		Timestamp:       time.Now().UTC(),
		TaskID:          taskID,
		TraceID:         uuid.New().String(),
		Payload:         payload,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsTerminalResult reports whether e represents a terminal outcome for a
// dispatched task: a task_result with a closed-enum status, or an error
// envelope.
func IsTerminalResult(e *Envelope) bool {
	if e.Type == KindError {
		return true
	}
	if e.Type != KindTaskResult {
		return false
	}
	status, _ := e.Payload["status"].(string)
	switch Status(status) {
	case StatusSuccess, StatusFailed, StatusPartialSuccess:
		return true
	default:
		return false
	}
}
