package scheduler

import (
	"time"

	"github.com/archcore/arch/internal/engine"
	"github.com/archcore/arch/internal/plan"
)

// DefaultBackoffCeiling caps exponential_backoff delays absent a
// configured override, per spec.md §4.6.2 step 6 ("capped at a configurable
// ceiling, default 1h").
const DefaultBackoffCeiling = time.Hour

// retryPolicyFor translates a task's retry configuration into the engine's
// strategy-agnostic RetryPolicy.
func retryPolicyFor(t *plan.Task, ceiling time.Duration) engine.RetryPolicy {
	if ceiling <= 0 {
		ceiling = DefaultBackoffCeiling
	}
	return engine.RetryPolicy{
		Strategy:        string(t.RetryStrategy),
		InitialInterval: t.RetryDelay,
		MaxInterval:     ceiling,
		Multiplier:      2,
	}
}

// nextDispatchAgent chooses the agent for the next dispatch attempt, per
// spec.md §4.6.2 step 6: the first retry (retryCount == 1) switches to
// fallback_agent if one is configured, and every subsequent retry stays on
// it; absent a fallback_agent, every attempt targets the task's own agent.
func nextDispatchAgent(t *plan.Task, retryCount int) plan.Agent {
	if t.FallbackAgent != "" && retryCount >= 1 {
		return t.FallbackAgent
	}
	return t.Agent
}
