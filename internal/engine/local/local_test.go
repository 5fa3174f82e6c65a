package local

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archcore/arch/internal/engine"
)

func TestNextBackoffImmediateIsZero(t *testing.T) {
	e := New()
	d, err := e.NextBackoff(engine.RetryPolicy{Strategy: "immediate"}, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)
}

func TestNextBackoffFixedDelayIsConstant(t *testing.T) {
	e := New()
	policy := engine.RetryPolicy{Strategy: "fixed_delay", InitialInterval: 5 * time.Second}
	for attempt := 0; attempt < 3; attempt++ {
		d, err := e.NextBackoff(policy, attempt)
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, d)
	}
}

func TestNextBackoffExponentialIsMonotonicallyNonDecreasing(t *testing.T) {
	e := New()
	policy := engine.RetryPolicy{
		Strategy:        "exponential_backoff",
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     time.Minute,
	}
	var prev time.Duration
	for attempt := 0; attempt < 6; attempt++ {
		d, err := e.NextBackoff(policy, attempt)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestNextBackoffExponentialRespectsMaxInterval(t *testing.T) {
	e := New()
	policy := engine.RetryPolicy{
		Strategy:        "exponential_backoff",
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     10 * time.Second,
	}
	d, err := e.NextBackoff(policy, 10)
	require.NoError(t, err)
	assert.LessOrEqual(t, d, 10*time.Second)
}

func TestNextBackoffUnknownStrategyErrors(t *testing.T) {
	e := New()
	_, err := e.NextBackoff(engine.RetryPolicy{Strategy: "bogus"}, 0)
	assert.Error(t, err)
}
