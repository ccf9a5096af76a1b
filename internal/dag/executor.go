package dag

import (
	"context"
	"fmt"
	"sync"

	"devrunner/internal/core"
	"devrunner/internal/trace"
)

// TaskRunner executes a single task.
//
// Non-zero exit codes are ordinary results, not errors; a non-nil error
// means infrastructure failure (unreadable inputs, a broken cache, and so
// on), which aborts the whole pipeline.
type TaskRunner interface {
	// Probe checks whether the task can be satisfied from cache. When
	// cached is true the result must be non-nil with FromCache set.
	Probe(ctx context.Context, task core.Task) (result *NodeResult, cached bool, err error)

	Run(ctx context.Context, task core.Task) (*NodeResult, error)
}

// Executor runs a TaskGraph serially and deterministically.
//
// Execution is strictly serial: the wrapped tools share a working tree and
// a build directory, so two tasks must never write concurrently. The mutex
// still guards state so progress can be observed from another goroutine,
// for example by a watch loop deciding whether to debounce.
type Executor struct {
	Graph  *TaskGraph
	Runner TaskRunner

	// Trace optionally observes task events as they settle, for progress
	// reporting. The canonical trace in GraphResult is built regardless.
	// Sinks are invoked with the executor lock held and must not call
	// back into the executor.
	Trace trace.Sink

	mu    sync.Mutex
	state ExecutionState
}

// NewExecutor creates an executor with all nodes initialized to PENDING.
func NewExecutor(g *TaskGraph, runner TaskRunner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}

	state := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		state[n.Name] = TaskPending
	}

	return &Executor{Graph: g, Runner: runner, state: state}, nil
}

// StateSnapshot returns a copy of the current execution state.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneState(e.state)
}

func cloneState(s ExecutionState) ExecutionState {
	cp := make(ExecutionState, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}

// Run executes the graph serially until every node is terminal.
//
// Each iteration polls the scheduler and settles the first ready task:
// replayed from cache when the runner's probe hits, executed otherwise.
// A failing task settles with its exit code and skips its dependents;
// unrelated tasks keep running. The first failure in settlement order is
// exposed via GraphResult.FirstFailure.
func (e *Executor) Run(ctx context.Context) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	n := len(e.Graph.nodes)
	order := make([]string, 0, n)
	taskHashes := make(map[string]core.TaskHash, n)
	stdout := make(map[string][]byte, n)
	stderr := make(map[string][]byte, n)
	steps := make(map[string][]core.StepRecord, n)
	exitCodes := make(map[string]int, n)
	fromCache := make(map[string]bool, n)

	record := func(name string, res *NodeResult) {
		order = append(order, name)
		taskHashes[name] = res.Hash
		stdout[name] = res.Stdout
		stderr[name] = res.Stderr
		steps[name] = res.Steps
		exitCodes[name] = res.ExitCode
		fromCache[name] = res.FromCache
	}

	events := make([]trace.TaskEvent, 0, n)
	emit := func(ev trace.TaskEvent) {
		events = append(events, ev)
		trace.SafeRecord(e.Trace, ev)
	}
	// Called with e.mu held. Canonical node order keeps the live event
	// stream deterministic too.
	emitSkips := func(pre ExecutionState, cause string) {
		for _, node := range e.Graph.nodes {
			if pre[node.Name] != TaskSkipped && e.state[node.Name] == TaskSkipped {
				emit(trace.TaskEvent{
					Kind:   trace.EventTaskSkipped,
					Task:   node.Name,
					Reason: trace.ReasonUpstreamFailed,
					Cause:  cause,
				})
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("execution cancelled: %w", err)
		}

		e.mu.Lock()
		ready := GetReadyTasks(e.Graph, e.state)

		if len(ready) == 0 {
			// Either every node settled, or the state is inconsistent.
			allTerminal := true
			for _, st := range e.state {
				if !IsTerminal(st) {
					allTerminal = false
					break
				}
			}
			e.mu.Unlock()

			if !allTerminal {
				return nil, fmt.Errorf("no ready tasks but graph not finished")
			}

			tr := trace.ExecutionTrace{GraphHash: e.Graph.Hash().String(), Events: events}
			traceBytes, terr := tr.CanonicalJSON()
			if terr != nil {
				return nil, fmt.Errorf("encoding trace: %w", terr)
			}

			return &GraphResult{
				GraphHash:      e.Graph.Hash(),
				FinalState:     e.StateSnapshot(),
				ExecutionOrder: order,
				TaskHashes:     taskHashes,
				Stdout:         stdout,
				Stderr:         stderr,
				Steps:          steps,
				ExitCode:       exitCodes,
				FromCache:      fromCache,
				TraceBytes:     traceBytes,
				TraceHash:      trace.ComputeTraceHash(traceBytes),
			}, nil
		}

		next := ready[0]
		task := e.Graph.nodesByName[next].Task

		probeRes, cached, err := e.Runner.Probe(ctx, task)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("probing cache for %q: %w", next, err)
		}
		if cached {
			if probeRes == nil {
				e.mu.Unlock()
				return nil, fmt.Errorf("probing cache for %q: nil result", next)
			}
			record(next, probeRes)
			if probeRes.ExitCode == 0 {
				err = Transition(e.state, next, TaskPending, TaskCached)
				if err == nil {
					emit(nodeEvent(next, task, probeRes, TaskCached))
				}
			} else {
				// A replayed failure settles the task and skips its
				// dependents, exactly like a fresh failure.
				pre := cloneState(e.state)
				err = FailAndPropagate(e.Graph, e.state, next)
				if err == nil {
					emit(nodeEvent(next, task, probeRes, TaskFailed))
					emitSkips(pre, next)
				}
			}
			e.mu.Unlock()
			if err != nil {
				return nil, err
			}
			continue
		}

		if err := Transition(e.state, next, TaskPending, TaskRunning); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.mu.Unlock()

		// Execute outside the lock.
		runRes, err := e.Runner.Run(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("executing %q: %w", next, err)
		}
		if runRes == nil {
			return nil, fmt.Errorf("executing %q: nil result", next)
		}

		e.mu.Lock()
		record(next, runRes)
		if runRes.ExitCode == 0 {
			err = Transition(e.state, next, TaskRunning, TaskCompleted)
			if err == nil {
				emit(nodeEvent(next, task, runRes, TaskCompleted))
			}
		} else {
			pre := cloneState(e.state)
			err = FailAndPropagate(e.Graph, e.state, next)
			if err == nil {
				emit(nodeEvent(next, task, runRes, TaskFailed))
				emitSkips(pre, next)
			}
		}
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
}

// nodeEvent translates a settled node into its trace event.
func nodeEvent(name string, task core.Task, res *NodeResult, settled TaskState) trace.TaskEvent {
	ev := trace.TaskEvent{
		Task:         name,
		TaskHash:     res.Hash.String(),
		Steps:        stepOutcomes(res.Steps),
		StdoutDigest: trace.Digest(res.Stdout),
		StderrDigest: trace.Digest(res.Stderr),
	}
	switch settled {
	case TaskCached:
		ev.Kind = trace.EventTaskCached
		ev.Artifacts = append([]string(nil), task.Outputs...)
	case TaskFailed:
		ev.Kind = trace.EventTaskFailed
		ev.ExitCode = res.ExitCode
		if res.FromCache {
			ev.Reason = trace.ReasonCacheReplay
		}
	default:
		ev.Kind = trace.EventTaskExecuted
	}
	return ev
}

func stepOutcomes(records []core.StepRecord) []trace.StepOutcome {
	if len(records) == 0 {
		return nil
	}
	out := make([]trace.StepOutcome, len(records))
	for i, r := range records {
		out[i] = trace.StepOutcome{Name: r.Name, ExitCode: r.ExitCode}
	}
	return out
}
