package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devrunner/internal/workflow"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRootCommandListsAllTasks(t *testing.T) {
	root := NewRootCommand(io.Discard, io.Discard)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range append(workflow.Names(), "list", "history", "version") {
		assert.Contains(t, names, want)
	}
}

func TestRootCommandWatchFlagPlacement(t *testing.T) {
	root := NewRootCommand(io.Discard, io.Discard)

	setup, _, err := root.Find([]string{"setup"})
	require.NoError(t, err)
	assert.Nil(t, setup.Flags().Lookup("watch"), "setup must not offer --watch")

	verify, _, err := root.Find([]string{"verify"})
	require.NoError(t, err)
	assert.NotNil(t, verify.Flags().Lookup("watch"))
}

func TestRunUnknownCommandExitsInvalidInvocation(t *testing.T) {
	code, _, stderr := runCLI(t, "publish")
	assert.Equal(t, ExitInvalidInvocation, code)
	assert.Contains(t, stderr, "publish")
}

func TestRunUnknownFlagExitsInvalidInvocation(t *testing.T) {
	code, _, stderr := runCLI(t, "test", "--frobnicate")
	assert.Equal(t, ExitInvalidInvocation, code)
	assert.Contains(t, stderr, "frobnicate")
}

func TestRunMissingWorkdirExitsInvalidInvocation(t *testing.T) {
	code, _, _ := runCLI(t, "test", "--workdir", filepath.Join(t.TempDir(), "absent"))
	assert.Equal(t, ExitInvalidInvocation, code)
}

func TestRunTaskPositionalArgsRejected(t *testing.T) {
	code, _, _ := runCLI(t, "lint-style", "extra")
	assert.Equal(t, ExitInvalidInvocation, code)
}

func TestRunVersionPrintsBuildInfo(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, fmt.Sprintf("%s version %s (build: %s)\n", appName, Version, BuildTime), stdout)
}

func TestRunListPrintsTaskCatalog(t *testing.T) {
	code, stdout, _ := runCLI(t, "list")
	assert.Equal(t, ExitSuccess, code)
	for _, name := range workflow.Names() {
		assert.Contains(t, stdout, name)
	}
}

func TestRunHistoryOnFreshWorkspace(t *testing.T) {
	code, stdout, _ := runCLI(t, "history", "--workdir", t.TempDir())
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "no recorded runs")
}

func TestRunTaskExitCodesPropagate(t *testing.T) {
	ws := seedWorkspace(t)

	code, _, _ := runCLI(t, "lint-style", "--workdir", ws)
	assert.Equal(t, ExitSuccess, code)

	touchMarker(t, ws, "fail_style")
	code, _, _ = runCLI(t, "lint-style", "--workdir", ws)
	assert.Equal(t, 7, code, "wrapped tool exit code passes through the command tree")
}

func TestRunHistoryListsFinishedRuns(t *testing.T) {
	ws := seedWorkspace(t)

	code, _, _ := runCLI(t, "lint-style", "--workdir", ws)
	require.Equal(t, ExitSuccess, code)

	touchMarker(t, ws, "fail_style")
	code, _, _ = runCLI(t, "lint-style", "--workdir", ws)
	require.Equal(t, 7, code)

	code, stdout, _ := runCLI(t, "history", "--workdir", ws)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "succeeded")
	assert.Contains(t, stdout, "failed")
	assert.Contains(t, stdout, "lint-style (TaskFailed)")
}
