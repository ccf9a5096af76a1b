package dag

import "devrunner/internal/core"

// GraphResult is the deterministic summary of a graph execution attempt.
type GraphResult struct {
	GraphHash GraphHash

	// FinalState is the terminal state of each node by name.
	FinalState ExecutionState

	// ExecutionOrder lists tasks in the order they settled. Replayed
	// tasks are included, since a replay is observationally identical
	// to a fresh execution. Skipped tasks never appear.
	ExecutionOrder []string

	// TaskHashes records the per-node execution identity.
	TaskHashes map[string]core.TaskHash

	// Stdout, Stderr, Steps and ExitCode capture each node's result,
	// whether executed or replayed.
	Stdout   map[string][]byte
	Stderr   map[string][]byte
	Steps    map[string][]core.StepRecord
	ExitCode map[string]int

	// FromCache marks nodes whose results were replayed.
	FromCache map[string]bool

	// TraceBytes is the canonical JSON execution trace and TraceHash its
	// sha256 digest. Two runs that make the same decisions produce
	// byte-identical traces.
	TraceBytes []byte
	TraceHash  string
}

// FirstFailure returns the name and exit code of the first task in
// settlement order that finished with a non-zero exit code. ok is false
// when every settled task succeeded.
func (r *GraphResult) FirstFailure() (name string, exitCode int, ok bool) {
	for _, task := range r.ExecutionOrder {
		if code := r.ExitCode[task]; code != 0 {
			return task, code, true
		}
	}
	return "", 0, false
}

// Failed reports whether any settled task failed.
func (r *GraphResult) Failed() bool {
	_, _, failed := r.FirstFailure()
	return failed
}
