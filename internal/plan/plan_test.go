package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archcore/arch/internal/errs"
)

func validPlanYAML() []byte {
	return []byte(`
plan_id: PLAN-001
version: "1.0.0"
name: Example plan
tasks:
  - task_id: T1
    agent: CA
    task_type: validation
    content:
      foo: bar
  - task_id: T2
    agent: CC
    task_type: data_processing
    content: {}
    dependencies: [T1]
    max_retries: 2
    retry_strategy: fixed_delay
    retry_delay: 10s
    timeout: 1m
`)
}

func TestLoadValidPlan(t *testing.T) {
	p, err := Load("test.yaml", validPlanYAML())
	require.NoError(t, err)
	require.Len(t, p.Tasks, 2)

	t1, ok := p.TaskByID("T1")
	require.True(t, ok)
	assert.Equal(t, DefaultMaxRetries, t1.MaxRetries)
	assert.Equal(t, DefaultRetryStrategy, t1.RetryStrategy)
	assert.Equal(t, DefaultRetryDelay, t1.RetryDelay)
	assert.Equal(t, PriorityMedium, t1.Priority)

	t2, ok := p.TaskByID("T2")
	require.True(t, ok)
	assert.Equal(t, 2, t2.MaxRetries)
	assert.Equal(t, RetryFixedDelay, t2.RetryStrategy)
	assert.Equal(t, 10_000_000_000, int(t2.RetryDelay))
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load("bad.yaml", []byte("tasks: [this is: not: valid"))
	require.Error(t, err)
	var syn *errs.PlanSyntaxError
	assert.ErrorAs(t, err, &syn)
}

func TestLoadRejectsSchemaViolation(t *testing.T) {
	data := []byte(`
plan_id: PLAN-002
version: "1.0.0"
tasks:
  - task_id: T1
    agent: NOT_AN_AGENT
    task_type: validation
    content: {}
`)
	_, err := Load("bad-schema.yaml", data)
	require.Error(t, err)
	var se *errs.PlanSchemaError
	assert.ErrorAs(t, err, &se)
}

func TestLoadRejectsUnknownAdditionalProperty(t *testing.T) {
	data := []byte(`
plan_id: PLAN-003
version: "1.0.0"
tasks:
  - task_id: T1
    agent: CA
    task_type: validation
    content: {}
    nonsense_field: true
`)
	_, err := Load("extra-field.yaml", data)
	require.Error(t, err)
}

func TestLoadRejectsExcessiveMaxRetries(t *testing.T) {
	data := []byte(`
plan_id: PLAN-004
version: "1.0.0"
tasks:
  - task_id: T1
    agent: CA
    task_type: validation
    content: {}
    max_retries: 99
`)
	_, err := Load("bad-retries.yaml", data)
	require.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	cases := map[string]int64{
		"30s": 30,
		"5m":  300,
		"2h":  7200,
		"1d":  86400,
	}
	for raw, wantSeconds := range cases {
		d, err := ParseDuration(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, wantSeconds, int64(d.Seconds()), raw)
	}

	_, err := ParseDuration("nonsense")
	assert.Error(t, err)
}

func TestValidAgent(t *testing.T) {
	assert.True(t, ValidAgent(AgentARCH))
	assert.True(t, ValidAgent(AgentCA))
	assert.True(t, ValidAgent(AgentCC))
	assert.True(t, ValidAgent(AgentWA))
	assert.False(t, ValidAgent(Agent("ROGUE")))
}
