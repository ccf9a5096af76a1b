// Package cli wires the devrunner command tree to the execution engine.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"devrunner/internal/workflow"
)

const (
	appName   = "devrunner"
	Version   = "0.1.0"
	BuildTime = "dev"
)

// ExitError carries a semantic exit code through cobra's error return
// path. Err is nil when the failure already reported itself on the
// process streams, such as a wrapped tool exiting non-zero.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Run executes the command tree and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var xe *ExitError
	if errors.As(err, &xe) {
		if xe.Err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", appName, xe.Err)
		}
		return xe.Code
	}
	var ie *InvocationError
	if errors.As(err, &ie) {
		fmt.Fprintf(stderr, "%s: %v\n", appName, ie)
		return ie.ExitCode
	}
	// Anything else is cobra's own parsing: unknown command, bad flag.
	fmt.Fprintf(stderr, "%s: %v\n", appName, err)
	return ExitInvalidInvocation
}

// NewRootCommand builds the devrunner command tree. Wrapped tools write
// to stdout and stderr; devrunner logs to stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	flags := &Flags{}

	root := &cobra.Command{
		Use:   appName,
		Short: "task runner for the project's developer workflow",
		Long: appName + ` runs the project's fixed developer-workflow tasks:
OpenAPI bundling and linting, Python style checks, the test suite, and
toolchain setup. Tool exit codes propagate unchanged.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.WorkDir, "workdir", ".", "project working directory")
	pf.StringVarP(&flags.ConfigPath, "config", "c", "", "config file (default: devrunner.yaml found from the working directory)")
	pf.StringVar(&flags.BuildDir, "build-dir", "", "override the build directory")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&flags.TracePath, "trace", "", "write the canonical execution trace to this file")
	pf.BoolVar(&flags.Incremental, "incremental", false, "replay unchanged tasks from the content cache")

	for _, def := range workflow.Definitions() {
		root.AddCommand(newTaskCommand(def, flags, stdout, stderr))
	}
	root.AddCommand(newListCommand())
	root.AddCommand(newHistoryCommand(flags))
	root.AddCommand(newVersionCommand())

	return root
}

func newTaskCommand(def workflow.Definition, flags *Flags, stdout, stderr io.Writer) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   def.Name,
		Short: def.Doc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.Watch = watch
			inv, err := flags.Invocation(def.Name)
			if err != nil {
				return err
			}
			if inv.Watch {
				return runWatch(cmd.Context(), inv, stdout, stderr)
			}
			res, err := Execute(cmd.Context(), inv, stdout, stderr)
			if res.ExitCode == ExitSuccess {
				return nil
			}
			return &ExitError{Code: res.ExitCode, Err: err}
		},
	}

	// Setup mutates the environment; rerunning it on every file change
	// would reinstall dependencies in a loop.
	if def.Name != workflow.TaskSetup {
		cmd.Flags().BoolVar(&watch, "watch", false, "rerun when watched inputs change")
	}

	return cmd
}
