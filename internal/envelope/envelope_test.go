package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archcore/arch/internal/plan"
)

func TestEncodeDefaults(t *testing.T) {
	e := Encode(KindTaskAssignment, string(plan.AgentARCH), string(plan.AgentCA), "T1", map[string]any{"foo": "bar"})
	assert.Equal(t, ProtocolVersion, e.ProtocolVersion)
	assert.Equal(t, 0, e.RetryCount)
	assert.NotEmpty(t, e.TraceID)
}

func TestEncodeWithTraceIDAndRetryCount(t *testing.T) {
	e := Encode(KindTaskAssignment, string(plan.AgentARCH), string(plan.AgentCA), "T1", nil,
		WithTraceID("fixed-trace"), WithRetryCount(2))
	assert.Equal(t, "fixed-trace", e.TraceID)
	assert.Equal(t, 2, e.RetryCount)
}

func validTaskAssignment() *Envelope {
	return Encode(KindTaskAssignment, string(plan.AgentARCH), string(plan.AgentCA), "T1",
		map[string]any{"instructions": "do the thing"})
}

func TestValidateAcceptsWellFormedTaskAssignment(t *testing.T) {
	e := validTaskAssignment()
	require.NoError(t, Validate(e, true))
}

func TestValidateRejectsWrongSenderOnTaskAssignment(t *testing.T) {
	e := validTaskAssignment()
	e.SenderID = "CA"
	assert.Error(t, Validate(e, true))
}

func TestValidateRejectsArchAsRecipientOnTaskAssignment(t *testing.T) {
	e := validTaskAssignment()
	e.RecipientID = string(plan.AgentARCH)
	assert.Error(t, Validate(e, true))
}

func TestValidateRejectsUnknownRecipient(t *testing.T) {
	e := validTaskAssignment()
	e.RecipientID = "ROGUE"
	assert.Error(t, Validate(e, true))
}

func TestValidateRejectsMajorVersionMismatch(t *testing.T) {
	e := validTaskAssignment()
	e.ProtocolVersion = "2.0"
	assert.Error(t, Validate(e, true))
}

func TestValidateAcceptsMinorVersionDrift(t *testing.T) {
	e := validTaskAssignment()
	e.ProtocolVersion = "1.0"
	assert.NoError(t, Validate(e, true))
}

func taskResult(status string, success bool, score float64) *Envelope {
	return Encode(KindTaskResult, string(plan.AgentCA), string(plan.AgentARCH), "T1", map[string]any{
		"status":  status,
		"success": success,
		"score":   score,
	})
}

func TestValidateAcceptsConsistentSuccess(t *testing.T) {
	e := taskResult("success", true, 0.9)
	assert.NoError(t, Validate(e, false))
}

func TestValidateRejectsInconsistentSuccessFlag(t *testing.T) {
	e := taskResult("failed", true, 0.9)
	assert.Error(t, Validate(e, false))
}

func TestValidateRejectsOutOfRangeScore(t *testing.T) {
	e := taskResult("success", true, 1.5)
	assert.Error(t, Validate(e, false))
}

func TestValidateRejectsUnknownStatus(t *testing.T) {
	e := taskResult("bogus", true, 0.5)
	assert.Error(t, Validate(e, false))
}

func TestIsTerminalResult(t *testing.T) {
	assert.True(t, IsTerminalResult(taskResult("success", true, 1)))
	assert.True(t, IsTerminalResult(taskResult("failed", false, 0)))
	assert.True(t, IsTerminalResult(taskResult("partial_success", false, 0.4)))
	assert.True(t, IsTerminalResult(Encode(KindError, string(plan.AgentCA), string(plan.AgentARCH), "T1", map[string]any{"message": "boom"})))
	assert.False(t, IsTerminalResult(Encode(KindTaskAssignment, string(plan.AgentARCH), string(plan.AgentCA), "T1", nil)))
}

func TestRetryTrackerAcceptsMonotonicSequence(t *testing.T) {
	rt := NewRetryTracker()
	e1 := taskResult("failed", false, 0)
	e1.TraceID = "trace-1"
	e1.RetryCount = 0
	require.NoError(t, rt.Observe(e1))

	e2 := taskResult("success", true, 1)
	e2.TraceID = "trace-1"
	e2.RetryCount = 1
	require.NoError(t, rt.Observe(e2))
}

func TestRetryTrackerRejectsRegression(t *testing.T) {
	rt := NewRetryTracker()
	e1 := taskResult("failed", false, 0)
	e1.TraceID = "trace-1"
	e1.RetryCount = 2
	require.NoError(t, rt.Observe(e1))

	e2 := taskResult("failed", false, 0)
	e2.TraceID = "trace-1"
	e2.RetryCount = 1
	assert.Error(t, rt.Observe(e2))
}
