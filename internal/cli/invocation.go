package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	ExitSuccess           = 0
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

type ExecutionMode string

const (
	ExecutionModeClean       ExecutionMode = "clean"
	ExecutionModeIncremental ExecutionMode = "incremental"
)

// Invocation is the fully canonicalized description of a run.
//
// WorkDir is absolute and verified to exist; every other path is resolved
// relative to it. Nothing here depends on the process current working
// directory after construction.
type Invocation struct {
	Task       string
	WorkDir    string
	ConfigPath string
	BuildDir   string
	TracePath  string
	LogLevel   string
	Mode       ExecutionMode
	Watch      bool
}

// Flags holds the raw persistent flag values bound by the command tree.
type Flags struct {
	WorkDir     string
	ConfigPath  string
	BuildDir    string
	TracePath   string
	LogLevel    string
	Incremental bool
	Watch       bool
}

// Invocation canonicalizes the raw flag values for one task invocation.
func (f *Flags) Invocation(task string) (Invocation, error) {
	workDir := f.WorkDir
	if strings.TrimSpace(workDir) == "" {
		workDir = "."
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return Invocation{}, invalidInvocationf("--workdir %q: %v", workDir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Invocation{}, invalidInvocationf("--workdir %q: %v", workDir, err)
	}
	if !info.IsDir() {
		return Invocation{}, invalidInvocationf("--workdir %q is not a directory", workDir)
	}

	inv := Invocation{
		Task:     task,
		WorkDir:  abs,
		BuildDir: f.BuildDir,
		Mode:     ExecutionModeClean,
		Watch:    f.Watch,
	}
	if f.Incremental {
		inv.Mode = ExecutionModeIncremental
	}

	if strings.TrimSpace(f.ConfigPath) != "" {
		resolved, err := resolveUnderWorkDir(abs, f.ConfigPath)
		if err != nil {
			return Invocation{}, err
		}
		inv.ConfigPath = resolved
	}
	if strings.TrimSpace(f.TracePath) != "" {
		resolved, err := resolveUnderWorkDir(abs, f.TracePath)
		if err != nil {
			return Invocation{}, err
		}
		inv.TracePath = resolved
	}

	level, err := parseLogLevel(f.LogLevel)
	if err != nil {
		return Invocation{}, err
	}
	inv.LogLevel = level

	return inv, nil
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func parseLogLevel(raw string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(raw))
	switch n {
	case "", "debug", "info", "warn", "error":
		return n, nil
	default:
		return "", invalidInvocationf("invalid --log-level %q (expected debug|info|warn|error)", raw)
	}
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}

	// Absolute paths are accepted as-is; relative ones resolve under the
	// (already absolute) working directory without consulting the CWD.
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// ExitCode extracts a semantic exit code from an invocation error. Errors of
// any other type map to ExitInternalError.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
