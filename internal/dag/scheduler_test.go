package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devrunner/internal/core"
)

func TestReadyTasksSortedByDepthThenName(t *testing.T) {
	g, err := NewTaskGraph(
		[]core.Task{checkTask("a"), checkTask("b"), checkTask("c"), checkTask("d")},
		[]Edge{{From: "a", To: "c"}, {From: "b", To: "d"}},
	)
	require.NoError(t, err)

	// With both roots settled, c and d share depth 1 and order lexically.
	state := ExecutionState{
		"a": TaskCompleted,
		"b": TaskCompleted,
		"c": TaskPending,
		"d": TaskPending,
	}

	assert.Equal(t, []string{"c", "d"}, GetReadyTasks(g, state))
}

func TestReadyTasksBuiltInCheckOrder(t *testing.T) {
	g, err := NewTaskGraph([]core.Task{
		checkTask("test"),
		checkTask("lint-style"),
		checkTask("lint-openapi"),
	}, nil)
	require.NoError(t, err)

	state := ExecutionState{
		"lint-openapi": TaskPending,
		"lint-style":   TaskPending,
		"test":         TaskPending,
	}

	assert.Equal(t, []string{"lint-openapi", "lint-style", "test"}, GetReadyTasks(g, state))
}

func TestReadyTasksDiamondWaitsForAllParents(t *testing.T) {
	g, err := NewTaskGraph(
		[]core.Task{checkTask("a"), checkTask("b"), checkTask("c"), checkTask("d")},
		[]Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
			{From: "b", To: "d"},
			{From: "c", To: "d"},
		},
	)
	require.NoError(t, err)

	state := ExecutionState{
		"a": TaskCompleted,
		"b": TaskPending,
		"c": TaskPending,
		"d": TaskPending,
	}
	assert.Equal(t, []string{"b", "c"}, GetReadyTasks(g, state))

	state["b"] = TaskCompleted
	assert.Equal(t, []string{"c"}, GetReadyTasks(g, state),
		"join must wait for every parent")

	// CACHED satisfies dependents the same as COMPLETED.
	state["c"] = TaskCached
	assert.Equal(t, []string{"d"}, GetReadyTasks(g, state))
}

func TestReadyTasksFailedParentBlocksDependent(t *testing.T) {
	g, err := NewTaskGraph(
		[]core.Task{checkTask("a"), checkTask("b")},
		[]Edge{{From: "a", To: "b"}},
	)
	require.NoError(t, err)

	state := ExecutionState{"a": TaskFailed, "b": TaskPending}

	assert.Empty(t, GetReadyTasks(g, state))
}

func TestReadyTasksNilGraph(t *testing.T) {
	assert.Nil(t, GetReadyTasks(nil, ExecutionState{}))
}
