package tracelog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archcore/arch/internal/events"
)

func TestTaskLoggerBuildsRecordAndFlushes(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewTaskLogger(dir)
	require.NoError(t, err)
	ctx := context.Background()

	score := 0.8
	require.NoError(t, logger.HandleEvent(ctx, events.NewTaskTransitionEvent(events.TaskCreated, "P1", "T1", "", "waiting", "", 0)))
	require.NoError(t, logger.HandleEvent(ctx, events.NewTaskTransitionEvent(events.TaskStarted, "P1", "T1", "ready", "running", "", 0)))
	te := events.NewTaskTransitionEvent(events.TaskCompleted, "P1", "T1", "running", "completed", "success", 0)
	te.Score = &score
	require.NoError(t, logger.HandleEvent(ctx, te))

	snap := logger.Snapshot("T1")
	require.NotNil(t, snap)
	assert.Equal(t, "P1", snap.PlanID)
	assert.Len(t, snap.StateTransitions, 3)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "completed", snap.Result.Status)
	require.NotNil(t, snap.Result.Score)
	assert.Equal(t, 0.8, *snap.Result.Score)
	require.NotNil(t, snap.StartedAt)
	require.NotNil(t, snap.CompletedAt)

	data, err := os.ReadFile(filepath.Join(dir, "T1.json"))
	require.NoError(t, err)
	var onDisk TaskLog
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, "T1", onDisk.TaskID)
}

func TestTaskLoggerRecordsRetryHistory(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewTaskLogger(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, logger.HandleEvent(ctx, events.NewTaskTransitionEvent(events.TaskStarted, "P1", "T1", "ready", "running", "", 0)))
	require.NoError(t, logger.HandleEvent(ctx, events.NewTaskTransitionEvent(events.TaskRetry, "P1", "T1", "failed", "retrying", "task_failed", 1)))
	require.NoError(t, logger.HandleEvent(ctx, events.NewTaskTransitionEvent(events.TaskStarted, "P1", "T1", "retrying", "running", "", 1)))

	snap := logger.Snapshot("T1")
	require.Len(t, snap.RetryHistory, 1)
	assert.Equal(t, 1, snap.RetryHistory[0].RetryCount)
	assert.Equal(t, "task_failed", snap.RetryHistory[0].Reason)
}

func TestPlanTraceLoggerComputesSummary(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewPlanTraceLogger(dir, "P1")
	require.NoError(t, err)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, logger.HandleEvent(ctx, events.NewPlanEvent(events.PlanStarted, "P1", "")))
	require.NoError(t, logger.HandleEvent(ctx, events.NewLayerEvent(events.LayerStarted, "P1", 0)))

	score1, score2 := 0.9, 0.5
	t1 := events.NewTaskTransitionEvent(events.TaskStarted, "P1", "T1", "ready", "running", "", 0)
	t2 := events.NewTaskTransitionEvent(events.TaskStarted, "P1", "T2", "ready", "running", "", 0)
	c1 := events.NewTaskTransitionEvent(events.TaskCompleted, "P1", "T1", "running", "completed", "success", 0)
	c1.Score = &score1
	f2 := events.NewTaskTransitionEvent(events.TaskFailed, "P1", "T2", "running", "failed", "task_failed", 0)
	f2.Score = &score2

	require.NoError(t, logger.HandleEvent(ctx, t1))
	require.NoError(t, logger.HandleEvent(ctx, t2))
	require.NoError(t, logger.HandleEvent(ctx, c1))
	require.NoError(t, logger.HandleEvent(ctx, f2))
	require.NoError(t, logger.HandleEvent(ctx, events.NewLayerEvent(events.LayerCompleted, "P1", 0)))
	require.NoError(t, logger.HandleEvent(ctx, events.NewPlanEvent(events.PlanFailed, "P1", "partial_success")))

	trace := logger.Snapshot()
	require.NotNil(t, trace.Summary)
	assert.Equal(t, 1, trace.Summary.TasksCompleted)
	assert.Equal(t, 1, trace.Summary.TasksFailed)
	require.NotNil(t, trace.Summary.AvgTaskScore)
	assert.InDelta(t, 0.7, *trace.Summary.AvgTaskScore, 0.001)
	assert.Equal(t, "partial_success", trace.Summary.Status)
	assert.True(t, trace.Summary.EndTime.After(start) || trace.Summary.EndTime.Equal(start))
	assert.GreaterOrEqual(t, trace.Summary.ParallelismAchieved, 0.0)

	data, err := os.ReadFile(filepath.Join(dir, "P1.json"))
	require.NoError(t, err)
	var onDisk ExecutionTrace
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.NotEmpty(t, onDisk.Timeline)
}
