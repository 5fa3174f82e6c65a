package scheduler

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that the background agent-response goroutines the
// dispatch tests spawn are always cleaned up, since a scheduler that leaks a
// poller would eventually starve a real deployment's goroutine budget.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
