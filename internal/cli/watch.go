package cli

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"devrunner/internal/workflow"
)

// runWatch executes the task once, then reruns it for every debounced
// batch of input changes until the context is cancelled. The returned
// exit code is the last completed run's code, so interrupting a watch
// session reports the state the user last saw.
func runWatch(ctx context.Context, inv Invocation, stdout, stderr io.Writer) error {
	res, err := Execute(ctx, inv, stdout, stderr)
	if res.Config == nil {
		// Without configuration there is nothing to watch.
		return &ExitError{Code: res.ExitCode, Err: err}
	}
	cfg := res.Config
	lastCode := res.ExitCode

	logger, level := newLogger(stderr, inv.LogLevel)
	if inv.LogLevel == "" {
		level.Set(slogLevel(cfg.Log.Level))
	}

	patterns, err := workflow.InputPatterns(cfg, inv.Task)
	if err != nil {
		return &ExitError{Code: ExitConfigError, Err: err}
	}
	// The build dir is written by the tasks themselves; watching it would
	// retrigger forever.
	excludes := []string{filepath.Base(cfg.BuildDir), "node_modules"}

	w, err := workflow.NewWatcher(inv.WorkDir, patterns, cfg.Watch.Debounce.Duration(), excludes, logger)
	if err != nil {
		return &ExitError{Code: ExitConfigError, Err: err}
	}
	if err := w.Start(ctx); err != nil {
		return &ExitError{Code: ExitConfigError, Err: err}
	}
	defer w.Stop()

	logger.Info("watching for changes", "task", inv.Task, "patterns", strings.Join(patterns, " "))

	for batch := range w.Batches() {
		logger.Info("inputs changed", "files", len(batch))
		res, _ := Execute(ctx, inv, stdout, stderr)
		if ctx.Err() != nil {
			// An interrupted run does not overwrite the last result.
			break
		}
		lastCode = res.ExitCode
	}

	if lastCode == ExitSuccess {
		return nil
	}
	return &ExitError{Code: lastCode}
}
