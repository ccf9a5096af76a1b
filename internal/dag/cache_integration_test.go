package dag

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devrunner/internal/core"
)

func shellTask(name, script string) core.Task {
	return core.Task{
		Name:  name,
		Steps: []core.Step{{Name: "run", Argv: []string{"sh", "-c", script}}},
	}
}

func newCachedExecutor(t *testing.T, workDir string, g *TaskGraph) *Executor {
	t.Helper()
	runner, err := NewCacheAwareRunner(core.NewRunner(workDir, core.NewMemoryCache()))
	require.NoError(t, err)
	exec, err := NewExecutor(g, runner)
	require.NoError(t, err)
	return exec
}

func resetExecutor(t *testing.T, old *Executor) *Executor {
	t.Helper()
	exec, err := NewExecutor(old.Graph, old.Runner)
	require.NoError(t, err)
	return exec
}

func TestCacheHitRestoresArtifactWithoutReexecution(t *testing.T) {
	workDir := t.TempDir()

	// The sentinel makes any second real execution fail loudly.
	task := shellTask("report",
		"if [ -e ran_once ]; then exit 9; fi; : > ran_once; printf 'artifact-v1' > a.txt")
	task.Outputs = []string{"a.txt"}

	g, err := NewTaskGraph([]core.Task{task}, nil)
	require.NoError(t, err)
	exec := newCachedExecutor(t, workDir, g)

	res1, err := exec.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, res1.FinalState["report"])

	require.NoError(t, os.Remove(filepath.Join(workDir, "a.txt")))

	res2, err := resetExecutor(t, exec).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TaskCached, res2.FinalState["report"])
	assert.True(t, res2.FromCache["report"])

	restored, err := os.ReadFile(filepath.Join(workDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "artifact-v1", string(restored))
}

func TestCacheMixedHitMissAfterInputChange(t *testing.T) {
	workDir := t.TempDir()
	inPath := filepath.Join(workDir, "in.txt")
	require.NoError(t, os.WriteFile(inPath, []byte("v1"), 0o644))

	taskA := shellTask("a", `IFS= read -r x < in.txt; printf '%s' "$x" > a.txt`)
	taskA.Inputs = []string{"in.txt"}
	taskA.Outputs = []string{"a.txt"}

	taskB := shellTask("b", `IFS= read -r x < a.txt; printf '%sB' "$x" > b.txt`)
	taskB.Inputs = []string{"a.txt"}
	taskB.Outputs = []string{"b.txt"}

	taskC := shellTask("c",
		"if [ -e ran_c ]; then exit 9; fi; : > ran_c; printf 'C' > c.txt")
	taskC.Outputs = []string{"c.txt"}

	g, err := NewTaskGraph(
		[]core.Task{taskA, taskB, taskC},
		[]Edge{{From: "a", To: "b"}},
	)
	require.NoError(t, err)
	exec := newCachedExecutor(t, workDir, g)

	res1, err := exec.Run(context.Background())
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c"} {
		require.Equal(t, TaskCompleted, res1.FinalState[name])
	}

	// Second run with artifacts deleted: everything replays.
	for _, p := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, os.Remove(filepath.Join(workDir, p)))
	}

	res2, err := resetExecutor(t, exec).Run(context.Background())
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, TaskCached, res2.FinalState[name])
	}

	// Changing a's input invalidates a and, through a.txt, b; c still hits.
	require.NoError(t, os.WriteFile(inPath, []byte("v2"), 0o644))
	for _, p := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, os.Remove(filepath.Join(workDir, p)))
	}

	res3, err := resetExecutor(t, exec).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, res3.FinalState["a"])
	assert.Equal(t, TaskCompleted, res3.FinalState["b"])
	assert.Equal(t, TaskCached, res3.FinalState["c"])

	a, err := os.ReadFile(filepath.Join(workDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(a))
	b, err := os.ReadFile(filepath.Join(workDir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2B", string(b))
	c, err := os.ReadFile(filepath.Join(workDir, "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "C", string(c))
}

func TestVolatileTaskNeverReplaysThroughGraph(t *testing.T) {
	workDir := t.TempDir()

	task := shellTask("setup", "echo x >> count")
	task.Volatile = true

	g, err := NewTaskGraph([]core.Task{task}, nil)
	require.NoError(t, err)
	exec := newCachedExecutor(t, workDir, g)

	for i := 0; i < 2; i++ {
		res, err := resetExecutor(t, exec).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, TaskCompleted, res.FinalState["setup"])
		assert.False(t, res.FromCache["setup"])
	}

	data, err := os.ReadFile(filepath.Join(workDir, "count"))
	require.NoError(t, err)
	assert.Equal(t, "x\nx\n", string(data), "an installer must really run every time")
}

func TestCachedFailureReplaysThroughGraph(t *testing.T) {
	workDir := t.TempDir()

	task := shellTask("flaky-looking",
		"if [ -e ran_once ]; then exit 0; fi; : > ran_once; echo broken 1>&2; exit 4")

	g, err := NewTaskGraph([]core.Task{task}, nil)
	require.NoError(t, err)
	exec := newCachedExecutor(t, workDir, g)

	res1, err := exec.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, TaskFailed, res1.FinalState["flaky-looking"])

	// Identical definition and inputs: the failure replays rather than
	// letting the sentinel path succeed.
	res2, err := resetExecutor(t, exec).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, res2.FinalState["flaky-looking"])
	assert.True(t, res2.FromCache["flaky-looking"])

	_, code, failed := res2.FirstFailure()
	require.True(t, failed)
	assert.Equal(t, 4, code)
}
