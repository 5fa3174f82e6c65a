// Package temporalengine adapts the scheduler's retry policy onto
// go.temporal.io/sdk/temporal.RetryPolicy, for hosts that want to run
// task dispatch as Temporal activities with durable, server-managed retry
// instead of the default in-process backoff loop (internal/engine/local).
//
// Grounded on the teacher's agents/runtime/engine/temporal adapter, which
// performs the same RetryPolicy-to-temporal.RetryPolicy translation when
// constructing workflow.ActivityOptions.
package temporalengine

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/archcore/arch/internal/engine"
)

// Engine mirrors internal/engine/local's delay computation but additionally
// exposes ToTemporalRetryPolicy for embedding into workflow.ActivityOptions
// when the scheduler is hosted inside a Temporal workflow.
type Engine struct{}

// New returns a ready-to-use Engine.
func New() *Engine { return &Engine{} }

// NextBackoff matches internal/engine/local's semantics so a host can swap
// engines without changing observed retry timing in tests that don't
// actually run inside Temporal.
func (*Engine) NextBackoff(policy engine.RetryPolicy, attempt int) (time.Duration, error) {
	switch policy.Strategy {
	case "immediate":
		return 0, nil
	case "fixed_delay":
		return policy.InitialInterval, nil
	case "exponential_backoff":
		d := policy.InitialInterval
		multiplier := policy.Multiplier
		if multiplier <= 0 {
			multiplier = 2
		}
		for i := 0; i < attempt; i++ {
			d = time.Duration(float64(d) * multiplier)
			if policy.MaxInterval > 0 && d > policy.MaxInterval {
				d = policy.MaxInterval
				break
			}
		}
		return d, nil
	default:
		return 0, fmt.Errorf("unknown retry strategy %q", policy.Strategy)
	}
}

// ToTemporalRetryPolicy maps an ARCH retry policy onto the Temporal SDK's
// native RetryPolicy, so a task dispatched as a Temporal activity retries
// durably via the Temporal server rather than the in-process scheduler loop.
// immediate has no Temporal equivalent for "never retry automatically" other
// than MaximumAttempts: 1, so that is what it maps to.
func ToTemporalRetryPolicy(policy engine.RetryPolicy, maxAttempts int) *temporal.RetryPolicy {
	switch policy.Strategy {
	case "immediate":
		return &temporal.RetryPolicy{MaximumAttempts: 1}
	case "fixed_delay":
		return &temporal.RetryPolicy{
			InitialInterval:    policy.InitialInterval,
			BackoffCoefficient: 1,
			MaximumInterval:    policy.InitialInterval,
			MaximumAttempts:    int32(maxAttempts),
		}
	case "exponential_backoff":
		multiplier := policy.Multiplier
		if multiplier <= 0 {
			multiplier = 2
		}
		return &temporal.RetryPolicy{
			InitialInterval:    policy.InitialInterval,
			BackoffCoefficient: multiplier,
			MaximumInterval:    policy.MaxInterval,
			MaximumAttempts:    int32(maxAttempts),
		}
	default:
		return nil
	}
}
