package dag

import (
	"context"
	"fmt"

	"devrunner/internal/core"
)

// NodeResult is the outcome of executing or replaying a single node. The
// executor uses it to commit the correct terminal state and to record
// stable per-node results in GraphResult.
type NodeResult struct {
	Hash core.TaskHash

	Stdout   []byte
	Stderr   []byte
	Steps    []core.StepRecord
	ExitCode int

	FromCache         bool
	ArtifactsRestored int
}

// CacheAwareRunner adapts core.Runner to the graph executor.
//
// It computes the task hash, checks the cache, replays artifacts on hits
// and executes on misses. Volatile tasks and uncached runners never probe:
// an installer must really run every time.
type CacheAwareRunner struct {
	Runner *core.Runner
}

// NewCacheAwareRunner wraps a core.Runner for graph execution.
func NewCacheAwareRunner(r *core.Runner) (*CacheAwareRunner, error) {
	if r == nil {
		return nil, fmt.Errorf("nil core runner")
	}
	return &CacheAwareRunner{Runner: r}, nil
}

// Run executes the task through the underlying core.Runner.
func (r *CacheAwareRunner) Run(ctx context.Context, task core.Task) (*NodeResult, error) {
	res, err := r.Runner.Run(ctx, &task)
	if err != nil {
		return nil, err
	}
	return &NodeResult{
		Hash:              res.Hash,
		Stdout:            res.Stdout,
		Stderr:            res.Stderr,
		Steps:             res.Steps,
		ExitCode:          res.ExitCode,
		FromCache:         res.FromCache,
		ArtifactsRestored: res.ArtifactsRestored,
	}, nil
}

// Probe checks whether the task can be satisfied from cache, replaying the
// cached result when it can.
func (r *CacheAwareRunner) Probe(ctx context.Context, task core.Task) (*NodeResult, bool, error) {
	if r == nil || r.Runner == nil {
		return nil, false, fmt.Errorf("nil core runner")
	}
	if err := task.Validate(); err != nil {
		return nil, false, err
	}
	if r.Runner.Cache == nil || task.Volatile {
		return nil, false, nil
	}

	inputSet, err := r.Runner.Resolver.Resolve(task.Inputs)
	if err != nil {
		return nil, false, fmt.Errorf("resolving inputs: %w", err)
	}

	hash := r.Runner.Hasher.ComputeHash(core.HashInput{
		Inputs:     inputSet,
		Steps:      task.Steps,
		Env:        task.Env,
		Outputs:    task.Outputs,
		WorkingDir: r.Runner.WorkingDir,
	})

	exists, err := r.Runner.Cache.Has(hash)
	if err != nil {
		return nil, false, fmt.Errorf("checking cache: %w", err)
	}
	if !exists {
		return nil, false, nil
	}

	entry, err := r.Runner.Cache.Get(hash)
	if err != nil {
		return nil, false, fmt.Errorf("retrieving cache entry: %w", err)
	}
	if entry == nil {
		return nil, false, fmt.Errorf("cache entry disappeared")
	}

	replayResult, err := r.Runner.Replayer.Replay(entry)
	if err != nil {
		return nil, false, fmt.Errorf("replaying cached result: %w", err)
	}

	return &NodeResult{
		Hash:              hash,
		Stdout:            replayResult.Stdout,
		Stderr:            replayResult.Stderr,
		Steps:             replayResult.Steps,
		ExitCode:          replayResult.ExitCode,
		FromCache:         true,
		ArtifactsRestored: replayResult.ArtifactsRestored,
	}, true, nil
}
