// Package core provides the execution engine for developer-workflow tasks.
package core

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Runner executes one task: its steps strictly in order, stopping at the
// first non-zero exit code, which becomes the task's exit code.
//
// With a cache attached the full flow is:
//  1. Resolve inputs and compute the task hash
//  2. Check the cache for an existing result
//  3. If cached: replay (no tool is invoked)
//  4. If not: run the steps, harvest artifacts, store the result
//
// Volatile tasks skip the cache entirely in both directions. Failed
// executions are cached without artifacts, so a failure never publishes
// partial outputs through the cache.
type Runner struct {
	// WorkingDir is the task execution directory.
	WorkingDir string

	// Cache stores and retrieves execution results. When nil, every run
	// executes fresh.
	Cache Cache

	// Executor is the subprocess boundary for command steps.
	Executor CommandRunner

	// Dotfiles applies file-merge steps.
	Dotfiles *DotfileWriter

	// Resolver expands input patterns to files.
	Resolver *InputResolver

	// Hasher computes deterministic task hashes.
	Hasher *TaskHasher

	// Harvester collects output artifacts.
	Harvester *Harvester

	// Replayer restores cached results.
	Replayer *Replayer

	// Normalizer for output normalization (optional).
	Normalizer OutputNormalizer
}

// NewRunner creates a Runner rooted at workingDir. cache may be nil for
// uncached execution.
func NewRunner(workingDir string, cache Cache) *Runner {
	return &Runner{
		WorkingDir: workingDir,
		Cache:      cache,
		Executor:   NewExecutor(workingDir),
		Dotfiles:   NewDotfileWriter(),
		Resolver:   NewInputResolver(workingDir),
		Hasher:     NewTaskHasher(),
		Harvester:  NewHarvester(workingDir),
		Replayer:   NewReplayer(workingDir),
	}
}

// NewRunnerWithNormalizer creates a Runner that normalizes captured output.
func NewRunnerWithNormalizer(workingDir string, cache Cache, normalizer OutputNormalizer) *Runner {
	r := NewRunner(workingDir, cache)
	r.Normalizer = normalizer
	r.Harvester = NewHarvesterWithNormalizer(workingDir, normalizer)
	return r
}

// RunResult is the outcome of running a task.
type RunResult struct {
	// Hash is the computed task hash.
	Hash TaskHash

	// Stdout is the combined standard output of the executed steps.
	Stdout []byte

	// Stderr is the combined standard error of the executed steps.
	Stderr []byte

	// Steps records each step that ran and its exit code. Steps after the
	// first failure never appear here.
	Steps []StepRecord

	// ExitCode is the task exit code: 0, or the first failing step's
	// code, propagated unchanged.
	ExitCode int

	// FromCache indicates the result was replayed rather than executed.
	FromCache bool

	// ArtifactsRestored is the number of artifacts written back during a
	// replay.
	ArtifactsRestored int
}

// Run executes a task or replays it from cache.
func (r *Runner) Run(ctx context.Context, task *Task) (*RunResult, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	inputSet, err := r.Resolver.Resolve(task.Inputs)
	if err != nil {
		return nil, fmt.Errorf("resolving inputs: %w", err)
	}

	hash := r.Hasher.ComputeHash(HashInput{
		Inputs:     inputSet,
		Steps:      task.Steps,
		Env:        task.Env,
		Outputs:    task.Outputs,
		WorkingDir: r.WorkingDir,
	})

	if r.Cache != nil && !task.Volatile {
		exists, err := r.Cache.Has(hash)
		if err != nil {
			return nil, fmt.Errorf("checking cache: %w", err)
		}
		if exists {
			return r.replayFromCache(hash)
		}
	}

	return r.executeAndCache(ctx, task, hash)
}

// Hash resolves the task's inputs and computes its current hash without
// executing anything.
func (r *Runner) Hash(task *Task) (TaskHash, error) {
	if err := task.Validate(); err != nil {
		return "", err
	}
	inputSet, err := r.Resolver.Resolve(task.Inputs)
	if err != nil {
		return "", fmt.Errorf("resolving inputs: %w", err)
	}
	return r.Hasher.ComputeHash(HashInput{
		Inputs:     inputSet,
		Steps:      task.Steps,
		Env:        task.Env,
		Outputs:    task.Outputs,
		WorkingDir: r.WorkingDir,
	}), nil
}

// replayFromCache retrieves and replays a cached result.
func (r *Runner) replayFromCache(hash TaskHash) (*RunResult, error) {
	entry, err := r.Cache.Get(hash)
	if err != nil {
		return nil, fmt.Errorf("retrieving cache entry: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("cache entry disappeared")
	}

	replayResult, err := r.Replayer.Replay(entry)
	if err != nil {
		return nil, fmt.Errorf("replaying cached result: %w", err)
	}

	return &RunResult{
		Hash:              hash,
		Stdout:            replayResult.Stdout,
		Stderr:            replayResult.Stderr,
		Steps:             replayResult.Steps,
		ExitCode:          replayResult.ExitCode,
		FromCache:         true,
		ArtifactsRestored: replayResult.ArtifactsRestored,
	}, nil
}

// executeAndCache runs the task's steps and stores the result.
func (r *Runner) executeAndCache(ctx context.Context, task *Task, hash TaskHash) (*RunResult, error) {
	var stdout, stderr bytes.Buffer
	var records []StepRecord
	exitCode := 0

	for _, step := range task.Steps {
		code, err := r.runStep(ctx, task, step, &stdout, &stderr)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Name, err)
		}
		records = append(records, StepRecord{Name: step.Name, ExitCode: code})
		if code != 0 {
			// Fail fast: the first failing step ends the task and its
			// exit code passes through unchanged.
			exitCode = code
			break
		}
	}

	stdoutBytes := stdout.Bytes()
	stderrBytes := stderr.Bytes()
	if r.Normalizer != nil {
		// Captured streams feed the cache and the trace; live output to the
		// terminal is untouched.
		stdoutBytes = r.Normalizer.Normalize(stdoutBytes)
		stderrBytes = r.Normalizer.Normalize(stderrBytes)
	}

	entry := &CacheEntry{
		Hash:     hash,
		Stdout:   stdoutBytes,
		Stderr:   stderrBytes,
		Steps:    records,
		ExitCode: exitCode,
	}

	if exitCode == 0 {
		artifacts, err := r.harvestArtifacts(task.Outputs)
		if err != nil {
			return nil, fmt.Errorf("harvesting artifacts: %w", err)
		}
		entry.Artifacts = artifacts
	} else {
		entry.Artifacts = []CachedArtifact{}
	}

	if r.Cache != nil && !task.Volatile {
		if err := r.Cache.Put(entry); err != nil {
			return nil, fmt.Errorf("caching result: %w", err)
		}
	}

	return &RunResult{
		Hash:     hash,
		Stdout:   entry.Stdout,
		Stderr:   entry.Stderr,
		Steps:    records,
		ExitCode: exitCode,
	}, nil
}

// runStep executes one step and appends its streams to the task buffers.
// File-merge failures surface as exit code 1 so the fail-fast rule treats
// them like any failing command.
func (r *Runner) runStep(ctx context.Context, task *Task, step Step, stdout, stderr *bytes.Buffer) (int, error) {
	if step.File != nil {
		if r.Dotfiles == nil {
			return 0, fmt.Errorf("no dotfile writer configured")
		}
		if _, err := r.Dotfiles.Apply(step.File); err != nil {
			fmt.Fprintf(stderr, "devrunner: %s: %v\n", step.Name, err)
			return 1, nil
		}
		return 0, nil
	}

	if r.Executor == nil {
		return 0, fmt.Errorf("no command runner configured")
	}

	res, err := r.Executor.Run(ctx, CommandSpec{
		Argv: step.Argv,
		Dir:  r.stepDir(step),
		Env:  mergeStepEnv(task.Env, step.Env),
	})
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, fmt.Errorf("command runner returned nil result")
	}

	stdout.Write(res.Stdout)
	stderr.Write(res.Stderr)
	return res.ExitCode, nil
}

func (r *Runner) stepDir(step Step) string {
	if step.Dir == "" {
		return ""
	}
	if filepath.IsAbs(step.Dir) {
		return step.Dir
	}
	return filepath.Join(r.WorkingDir, step.Dir)
}

// mergeStepEnv layers step entries over task entries.
func mergeStepEnv(taskEnv, stepEnv map[string]string) map[string]string {
	if len(taskEnv) == 0 {
		return stepEnv
	}
	if len(stepEnv) == 0 {
		return taskEnv
	}
	merged := make(map[string]string, len(taskEnv)+len(stepEnv))
	for k, v := range taskEnv {
		merged[k] = v
	}
	for k, v := range stepEnv {
		merged[k] = v
	}
	return merged
}

// harvestArtifacts collects artifacts from declared outputs.
func (r *Runner) harvestArtifacts(outputs []string) ([]CachedArtifact, error) {
	if len(outputs) == 0 {
		return []CachedArtifact{}, nil
	}

	artifactSet, err := r.Harvester.Harvest(outputs)
	if err != nil {
		return nil, err
	}

	cached := make([]CachedArtifact, len(artifactSet.Artifacts))
	for i, a := range artifactSet.Artifacts {
		cached[i] = CachedArtifact{Path: a.Path, Content: a.Content}
	}
	return cached, nil
}

// CleanArtifacts removes a task's declared outputs ahead of execution so a
// failed run cannot leave stale artifacts behind.
func (r *Runner) CleanArtifacts(outputs []string) error {
	for _, output := range outputs {
		fullPath := output
		if !filepath.IsAbs(output) {
			fullPath = filepath.Join(r.WorkingDir, output)
		}
		if err := os.RemoveAll(fullPath); err != nil {
			return fmt.Errorf("removing %q: %w", output, err)
		}
	}
	return nil
}
