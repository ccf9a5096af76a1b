// Package core provides the execution engine for developer-workflow tasks.
package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
)

// CommandSpec describes one external command invocation.
type CommandSpec struct {
	// Argv is the command and its arguments. Argv[0] is resolved via PATH.
	Argv []string

	// Dir is the working directory for the command.
	Dir string

	// Env is a map of variables layered on top of the inherited process
	// environment. Entries here win over inherited values of the same key.
	Env map[string]string
}

// CommandResult contains the observable outcome of one command invocation.
type CommandResult struct {
	// Stdout is the captured standard output.
	Stdout []byte

	// Stderr is the captured standard error.
	Stderr []byte

	// ExitCode is the process exit code. 0 indicates success.
	// A command that could not be started reports ExitCodeNotStartable.
	ExitCode int
}

// ExitCodeNotStartable is reported when a step's binary cannot be started
// at all (missing from PATH, not executable). 127 follows the shell
// convention for "command not found".
const ExitCodeNotStartable = 127

// CommandRunner is the subprocess boundary.
//
// Production code uses Executor; tests inject fakes so the engine can be
// exercised without spawning processes. A non-nil error indicates an
// infrastructure problem (cancellation, wait failure), not a tool failure;
// tool failures are conveyed through CommandResult.ExitCode.
type CommandRunner interface {
	Run(ctx context.Context, spec CommandSpec) (*CommandResult, error)
}

// Executor runs commands as real subprocesses.
//
// The wrapped tools are ordinary developer tooling (bundlers, linters, test
// runners, package managers) that rely on ecosystem-standard environment
// variables, so the child inherits the parent environment; declared Env
// entries are appended in sorted key order and override inherited values.
//
// Each child runs in its own process group. On context cancellation the
// whole group is killed so tool-spawned helpers do not outlive the run.
type Executor struct {
	// WorkingDir is the default directory commands execute in.
	WorkingDir string

	// Environ supplies the base environment. Defaults to the process
	// environment; tests may pin it for reproducibility.
	Environ func() []string

	// Stdout and Stderr, when non-nil, receive the child's output live in
	// addition to capture. The CLI attaches the process streams here so
	// the user sees the wrapped tool's own output as it happens.
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecutor creates an Executor rooted at the given working directory.
func NewExecutor(workingDir string) *Executor {
	return &Executor{WorkingDir: workingDir}
}

// Run executes the command described by spec.
//
// Exit codes pass through unchanged from the child process. A start
// failure (binary missing) is reported as a normal result with
// ExitCodeNotStartable and the spawn error on Stderr, so callers treat it
// with the same fail-fast rule as any other non-zero exit.
func (e *Executor) Run(ctx context.Context, spec CommandSpec) (*CommandResult, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("command argv is empty")
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)

	cmd.Dir = e.WorkingDir
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}

	cmd.Env = mergedEnv(e.baseEnviron(), spec.Env)

	// Own process group so cancellation can kill the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if e.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdout, e.Stdout)
	}
	if e.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, e.Stderr)
	}

	if err := cmd.Start(); err != nil {
		msg := fmt.Sprintf("devrunner: %s: %v\n", spec.Argv[0], err)
		if e.Stderr != nil {
			_, _ = io.WriteString(e.Stderr, msg)
		}
		return &CommandResult{
			Stderr:   []byte(msg),
			ExitCode: ExitCodeNotStartable,
		}, nil
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		// Kill the process group (negative PID) and wait for exit.
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("waiting for command: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &CommandResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
	}, nil
}

func (e *Executor) baseEnviron() []string {
	if e.Environ != nil {
		return e.Environ()
	}
	return os.Environ()
}

// mergedEnv layers overrides onto base. Overridden keys are replaced in
// place; new keys are appended in sorted order so the child environment is
// deterministic for a given base.
func mergedEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return append([]string(nil), base...)
	}

	seen := make(map[string]bool, len(overrides))
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, ok := strings.Cut(kv, "=")
		if ok {
			if v, hit := overrides[key]; hit {
				out = append(out, key+"="+v)
				seen[key] = true
				continue
			}
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
