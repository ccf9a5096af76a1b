package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"devrunner/internal/config"
	"devrunner/internal/core"
	"devrunner/internal/dag"
	"devrunner/internal/recovery/state"
	"devrunner/internal/trace"
	"devrunner/internal/workflow"
)

// Result summarizes one invocation: its semantic exit code, the run's
// recorded identity, the loaded configuration and the engine outcome.
// Config and GraphResult are nil when the run failed before the
// corresponding stage.
type Result struct {
	ExitCode    int
	RunID       string
	Config      *config.Config
	GraphResult *dag.GraphResult
}

// Execute maps a canonical invocation to engine execution.
//
// Responsibilities:
//   - Load layered configuration and apply flag overrides.
//   - Prepare the build directory (clean runs clear stale entries).
//   - Select the cache strategy for the execution mode.
//   - Initialize trace output before execution and finalize it after,
//     even on panic or failure.
//   - Record run metadata, checkpoints and failures in the state store.
//   - Translate engine outcomes to semantic exit codes; wrapped tools'
//     codes propagate unchanged.
//
// Wrapped tools stream to stdout and stderr live; devrunner's own logging
// goes to stderr. Replayed tasks re-emit their captured streams so a
// cache hit reads like the run it replays.
func Execute(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (res Result, execErr error) {
	res.ExitCode = ExitInternalError

	logger, level := newLogger(stderr, inv.LogLevel)

	// The state store comes first so every later failure can be recorded.
	// Store problems are tolerated: a run without history still runs.
	st, _ := state.NewStore(inv.WorkDir)
	rec := &state.RunRecorder{Store: st}
	runID, _ := rec.NewRunID()
	res.RunID = runID

	cfg, err := config.NewLoader(logger).Load(inv.WorkDir, inv.ConfigPath)
	if err != nil {
		recordFailure(rec, runID, &state.GraphFailureError{Code: "ConfigInvalid", Message: err.Error(), Cause: err})
		res.ExitCode = ExitConfigError
		return res, err
	}
	if inv.LogLevel == "" {
		level.Set(slogLevel(cfg.Log.Level))
	}
	if inv.BuildDir != "" {
		cfg.RebaseBuildDir(inv.BuildDir)
	}
	res.Config = cfg

	g, err := workflow.BuildGraph(cfg, inv.Task)
	if err != nil {
		recordFailure(rec, runID, &state.GraphFailureError{Code: "InvalidGraph", Message: err.Error(), Cause: err})
		res.ExitCode = ExitConfigError
		return res, err
	}
	graphHash := g.Hash().String()

	traceWriter, err := newTraceWriter(inv.TracePath, graphHash)
	if err != nil {
		recordFailure(rec, runID, &state.SystemFailureError{Code: "TraceInit", Message: err.Error(), Cause: err})
		res.ExitCode = ExitConfigError
		return res, err
	}
	defer func() {
		// Always finalize trace output deterministically.
		_ = traceWriter.Finalize(res.GraphResult)
	}()

	buildDir := cfg.BuildDir
	if !filepath.IsAbs(buildDir) {
		buildDir = filepath.Join(inv.WorkDir, buildDir)
	}
	if err := prepareBuildDir(buildDir, inv.WorkDir, inv.Mode); err != nil {
		recordFailure(rec, runID, &state.WorkspaceFailureError{Code: "BuildDir", Message: err.Error(), Cause: err})
		res.ExitCode = ExitConfigError
		return res, err
	}

	cache, err := cacheForMode(inv.Mode, filepath.Join(inv.WorkDir, ".devrunner", "cache"))
	if err != nil {
		recordFailure(rec, runID, &state.WorkspaceFailureError{Code: "CacheDir", Message: err.Error(), Cause: err})
		res.ExitCode = ExitConfigError
		return res, err
	}

	runner := core.NewRunner(inv.WorkDir, cache)
	// Captured streams are normalized for deterministic traces; artifacts
	// are cached raw so replays restore exactly what the tools wrote.
	runner.Normalizer = core.NewStreamNormalizer(core.NewDefaultNormalizer())
	if ex, ok := runner.Executor.(*core.Executor); ok {
		ex.Stdout = stdout
		ex.Stderr = stderr
	}
	cacheRunner, err := dag.NewCacheAwareRunner(runner)
	if err != nil {
		return res, err
	}

	// Clean runs also remove declared artifacts that live outside the
	// build directory; prepareBuildDir cannot reach those.
	if inv.Mode == ExecutionModeClean {
		for _, node := range g.Nodes() {
			if err := runner.CleanArtifacts(node.Task.Outputs); err != nil {
				recordFailure(rec, runID, &state.WorkspaceFailureError{Code: "StaleArtifacts", Message: err.Error(), Cause: err})
				res.ExitCode = ExitConfigError
				return res, err
			}
		}
	}

	if err := rec.StartRun(state.Run{
		RunID:     runID,
		GraphHash: graphHash,
		StartTime: time.Now().UTC(),
		Mode:      state.ExecutionMode(inv.Mode),
		Status:    state.RunStatusRunning,
	}); err != nil {
		logger.Warn("run metadata not recorded", "error", err)
	}

	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			res.GraphResult = nil
			execErr = fmt.Errorf("panic: %v", r)
			recordFailure(rec, runID, &state.SystemFailureError{Code: "Panic", Message: fmt.Sprintf("panic: %v", r), Cause: execErr})
			finishRun(rec, runID, state.RunStatusFailed)
		}
	}()

	exec, err := dag.NewExecutor(g, cacheRunner)
	if err != nil {
		recordFailure(rec, runID, &state.SystemFailureError{Code: "EngineError", Message: err.Error(), Cause: err})
		finishRun(rec, runID, state.RunStatusFailed)
		return res, err
	}
	exec.Trace = &progressSink{Logger: logger}

	logger.Info("run started", "task", inv.Task, "mode", string(inv.Mode), "run_id", runID)

	gr, err := exec.Run(ctx)
	if err != nil {
		code := "EngineError"
		if ctx.Err() != nil {
			code = "Interrupted"
		}
		recordFailure(rec, runID, &state.SystemFailureError{Code: code, Message: err.Error(), Cause: err})
		finishRun(rec, runID, state.RunStatusFailed)
		return res, err
	}
	res.GraphResult = gr

	// Replayed tasks produced no live output; their captured streams are
	// byte-identical to the original run, so re-emit them.
	for _, name := range gr.ExecutionOrder {
		if !gr.FromCache[name] {
			continue
		}
		if out := gr.Stdout[name]; len(out) > 0 && stdout != nil {
			_, _ = stdout.Write(out)
		}
		if out := gr.Stderr[name]; len(out) > 0 && stderr != nil {
			_, _ = stderr.Write(out)
		}
	}

	if inv.Mode == ExecutionModeIncremental {
		saveCheckpoints(logger, st, cache, runner, runID, g, gr)
	}

	if name, code, failed := gr.FirstFailure(); failed {
		res.ExitCode = code
		recordFailure(rec, runID, &state.ExecutionFailureError{
			Task:     name,
			ExitCode: code,
			Code:     "TaskFailed",
			Message:  failureDetail(gr, name),
		})
		finishRun(rec, runID, state.RunStatusFailed)
		return res, nil
	}

	res.ExitCode = ExitSuccess
	finishRun(rec, runID, state.RunStatusSucceeded)
	return res, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, *slog.LevelVar) {
	if w == nil {
		w = io.Discard
	}
	lv := new(slog.LevelVar)
	lv.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})), lv
}

func slogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func recordFailure(rec *state.RunRecorder, runID string, err error) {
	if runID == "" {
		return
	}
	_ = rec.RecordFailure(runID, err)
}

func finishRun(rec *state.RunRecorder, runID string, status state.RunStatus) {
	if runID == "" {
		return
	}
	_ = rec.FinishRun(runID, status)
}

// progressSink logs task lifecycle events as the engine settles them.
// The executor invokes it under its own lock.
type progressSink struct {
	Logger *slog.Logger
}

func (s *progressSink) Record(ev trace.TaskEvent) {
	if s == nil || s.Logger == nil {
		return
	}
	switch ev.Kind {
	case trace.EventTaskExecuted:
		s.Logger.Info("task succeeded", "task", ev.Task)
	case trace.EventTaskCached:
		s.Logger.Info("task replayed from cache", "task", ev.Task)
	case trace.EventTaskFailed:
		s.Logger.Warn("task failed", "task", ev.Task, "exit_code", ev.ExitCode)
	case trace.EventTaskSkipped:
		s.Logger.Warn("task skipped", "task", ev.Task, "cause", ev.Cause)
	}
}

// saveCheckpoints persists replayable-success evidence for later
// incremental runs. Checkpoint problems never change the run's outcome.
func saveCheckpoints(logger *slog.Logger, st *state.Store, cache core.Cache, runner *core.Runner, runID string, g *dag.TaskGraph, gr *dag.GraphResult) {
	if st == nil || runID == "" {
		return
	}
	validator := &state.CheckpointValidator{Store: st, Cache: cache, Harvester: runner.Harvester}
	for _, name := range gr.ExecutionOrder {
		if gr.ExitCode[name] != 0 {
			continue
		}
		node, ok := g.Node(name)
		if !ok || node.Task.Volatile {
			continue
		}
		_, err := validator.CreateAndSave(state.CheckpointInput{
			RunID:           runID,
			Task:            name,
			TaskHash:        gr.TaskHashes[name],
			DeclaredOutputs: node.Task.Outputs,
			ExitCode:        0,
			FromCache:       gr.FromCache[name],
		})
		if err != nil {
			logger.Warn("checkpoint not saved", "task", name, "error", err)
		}
	}
}

// failureDetail names the step that produced a task's exit code.
func failureDetail(gr *dag.GraphResult, task string) string {
	steps := gr.Steps[task]
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].ExitCode != 0 {
			return fmt.Sprintf("step %q exited %d", steps[i].Name, steps[i].ExitCode)
		}
	}
	return fmt.Sprintf("exited %d", gr.ExitCode[task])
}

// prepareBuildDir ensures the build directory exists. Clean runs clear
// leftover entries so stale artifacts cannot survive; incremental runs
// keep them, since replayed tasks restore authoritative bytes anyway.
func prepareBuildDir(dir, workDir string, mode ExecutionMode) error {
	if dir == "" {
		return fmt.Errorf("build dir is empty")
	}
	clean := filepath.Clean(dir)
	if clean == "/" {
		return fmt.Errorf("refusing to operate on build dir %q", clean)
	}
	if clean == filepath.Clean(workDir) {
		return fmt.Errorf("build dir %q is the working directory", clean)
	}
	info, err := os.Stat(clean)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(clean, 0o755)
		}
		return fmt.Errorf("stat build dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("build dir is not a directory: %s", clean)
	}
	if mode != ExecutionModeClean {
		return nil
	}
	entries, err := os.ReadDir(clean)
	if err != nil {
		return fmt.Errorf("read build dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(clean, e.Name())); err != nil {
			return fmt.Errorf("clear build dir: %w", err)
		}
	}
	return nil
}

func cacheForMode(mode ExecutionMode, cacheDir string) (core.Cache, error) {
	switch mode {
	case ExecutionModeIncremental:
		if cacheDir == "" {
			return nil, fmt.Errorf("cache dir is empty")
		}
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		return core.NewFileCache(cacheDir), nil
	case ExecutionModeClean:
		return noCache{}, nil
	default:
		return nil, fmt.Errorf("unknown execution mode: %q", mode)
	}
}

type noCache struct{}

func (noCache) Has(core.TaskHash) (bool, error)             { return false, nil }
func (noCache) Get(core.TaskHash) (*core.CacheEntry, error) { return nil, nil }
func (noCache) Put(*core.CacheEntry) error                  { return nil }

type traceFileWriter struct {
	enabled   bool
	path      string
	graphHash string
}

func newTraceWriter(path, graphHash string) (*traceFileWriter, error) {
	if path == "" {
		return &traceFileWriter{enabled: false}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	// Reserve the destination eagerly so even a panic leaves a valid,
	// deterministic artifact behind.
	w := &traceFileWriter{enabled: true, path: path, graphHash: graphHash}
	return w, w.writeBytes(trace.ExecutionTrace{GraphHash: graphHash, Events: nil})
}

func (w *traceFileWriter) Finalize(gr *dag.GraphResult) error {
	if w == nil || !w.enabled {
		return nil
	}
	if gr != nil && len(gr.TraceBytes) > 0 {
		return writeFileAtomic(w.path, gr.TraceBytes, 0o644)
	}
	// Without trace bytes (internal error, panic) still emit a valid
	// empty trace for this graph.
	return w.writeBytes(trace.ExecutionTrace{GraphHash: w.graphHash, Events: nil})
}

func (w *traceFileWriter) writeBytes(t trace.ExecutionTrace) error {
	b, err := t.CanonicalJSON()
	if err != nil {
		return err
	}
	return writeFileAtomic(w.path, b, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
