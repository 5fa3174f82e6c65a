package plan

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archcore/arch/internal/errs"
)

func taskWithDeps(id string, deps ...string) Task {
	return Task{ID: id, Agent: AgentCA, TaskType: TaskTypeCustom, Dependencies: deps}
}

func TestBuildDAGLayersLinearChain(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("T1"),
		taskWithDeps("T2", "T1"),
		taskWithDeps("T3", "T2"),
	}}
	dag, err := BuildDAG(p)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"T1"}, {"T2"}, {"T3"}}, dag.Layers)

	t1, _ := p.TaskByID("T1")
	t2, _ := p.TaskByID("T2")
	t3, _ := p.TaskByID("T3")
	assert.Equal(t, 0, t1.Layer)
	assert.Equal(t, 1, t2.Layer)
	assert.Equal(t, 2, t3.Layer)
}

func TestBuildDAGLayersDiamond(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("T1"),
		taskWithDeps("T2", "T1"),
		taskWithDeps("T3", "T1"),
		taskWithDeps("T4", "T2", "T3"),
	}}
	dag, err := BuildDAG(p)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"T1"}, {"T2", "T3"}, {"T4"}}, dag.Layers)
}

func TestBuildDAGIndependentTasksShareLayerZero(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("T2"),
		taskWithDeps("T1"),
		taskWithDeps("T3"),
	}}
	dag, err := BuildDAG(p)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"T1", "T2", "T3"}}, dag.Layers)
}

func TestBuildDAGLayersTwoIndependentDiamonds(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("A1"),
		taskWithDeps("A2", "A1"),
		taskWithDeps("A3", "A1"),
		taskWithDeps("A4", "A2", "A3"),
		taskWithDeps("B1"),
		taskWithDeps("B2", "B1"),
		taskWithDeps("B3", "B1"),
		taskWithDeps("B4", "B2", "B3"),
	}}
	dag, err := BuildDAG(p)
	require.NoError(t, err)

	want := [][]string{
		{"A1", "B1"},
		{"A2", "A3", "B2", "B3"},
		{"A4", "B4"},
	}
	if diff := cmp.Diff(want, dag.Layers); diff != "" {
		t.Errorf("unexpected layer assignment (-want +got):\n%s", diff)
	}
}

func TestBuildDAGUnknownDependency(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("T1", "GHOST"),
	}}
	_, err := BuildDAG(p)
	require.Error(t, err)
	var ud *errs.UnknownDependency
	require.ErrorAs(t, err, &ud)
	assert.Equal(t, "T1", ud.TaskID)
	assert.Equal(t, "GHOST", ud.DependsOn)
}

func TestBuildDAGDetectsDirectCycle(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("T1", "T2"),
		taskWithDeps("T2", "T1"),
	}}
	_, err := BuildDAG(p)
	require.Error(t, err)
	var cyc *errs.CyclicDependency
	require.ErrorAs(t, err, &cyc)
	assert.NotEmpty(t, cyc.Cycle)
}

func TestBuildDAGDetectsIndirectCycle(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("T1", "T3"),
		taskWithDeps("T2", "T1"),
		taskWithDeps("T3", "T2"),
	}}
	_, err := BuildDAG(p)
	require.Error(t, err)
	var cyc *errs.CyclicDependency
	require.ErrorAs(t, err, &cyc)
}

func TestBuildDAGSelfDependencyIsCycle(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("T1", "T1"),
	}}
	_, err := BuildDAG(p)
	require.Error(t, err)
	var cyc *errs.CyclicDependency
	require.ErrorAs(t, err, &cyc)
}

func TestDAGDependents(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("T1"),
		taskWithDeps("T2", "T1"),
		taskWithDeps("T3", "T1"),
	}}
	dag, err := BuildDAG(p)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"T2", "T3"}, dag.Dependents("T1"))
	assert.Empty(t, dag.Dependents("T2"))
}

func TestDAGCriticalPathLinearChain(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("T1"),
		taskWithDeps("T2", "T1"),
		taskWithDeps("T3", "T2"),
	}}
	dag, err := BuildDAG(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T2", "T3"}, dag.CriticalPath())
}

func TestDAGCriticalPathPicksLongestBranch(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("T1"),
		taskWithDeps("T2", "T1"),
		taskWithDeps("T3", "T2"),
		taskWithDeps("T4", "T1"),
	}}
	dag, err := BuildDAG(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T2", "T3"}, dag.CriticalPath())
}

func TestDAGCriticalPathTieBreaksLexicographically(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("A1"),
		taskWithDeps("B1"),
		taskWithDeps("A2", "A1"),
		taskWithDeps("B2", "B1"),
	}}
	dag, err := BuildDAG(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, dag.CriticalPath())
}

func TestDAGDepth(t *testing.T) {
	p := &Plan{Tasks: []Task{
		taskWithDeps("T1"),
		taskWithDeps("T2", "T1"),
	}}
	dag, err := BuildDAG(p)
	require.NoError(t, err)
	assert.Equal(t, 2, dag.Depth())
}
