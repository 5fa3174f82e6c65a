// Package local implements the default in-process execution engine: backoff
// delays are computed directly, and the scheduler's own worker-per-task
// goroutines perform the actual dispatch/poll loop (internal/scheduler).
package local

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/archcore/arch/internal/engine"
)

// Engine is the zero-configuration default: no external workflow service,
// just in-memory backoff computation.
type Engine struct{}

// New returns a ready-to-use local Engine.
func New() *Engine { return &Engine{} }

// NextBackoff computes the delay before the next dispatch attempt, per
// spec.md Testable Property 5 (backoff monotonicity): immediate is always
// zero, fixed_delay is constant, exponential_backoff doubles each attempt up
// to MaxInterval.
func (*Engine) NextBackoff(policy engine.RetryPolicy, attempt int) (time.Duration, error) {
	switch policy.Strategy {
	case "immediate":
		return 0, nil
	case "fixed_delay":
		return policy.InitialInterval, nil
	case "exponential_backoff":
		return exponentialDelay(policy, attempt), nil
	default:
		return 0, fmt.Errorf("unknown retry strategy %q", policy.Strategy)
	}
}

// exponentialDelay uses cenkalti/backoff/v5's exponential policy purely as a
// delay calculator (no retry loop of its own; the scheduler drives retries).
func exponentialDelay(policy engine.RetryPolicy, attempt int) time.Duration {
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.Multiplier = multiplier
	b.MaxInterval = policy.MaxInterval
	b.RandomizationFactor = 0

	var d time.Duration
	for i := 0; i <= attempt; i++ {
		next := b.NextBackOff()
		if next == backoff.Stop {
			return b.MaxInterval
		}
		d = next
	}
	if policy.MaxInterval > 0 && d > policy.MaxInterval {
		d = policy.MaxInterval
	}
	return d
}
