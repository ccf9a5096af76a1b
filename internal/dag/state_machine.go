package dag

import (
	"fmt"
	"sort"
)

// Transition performs an atomic validated transition for a single task.
//
// The caller supplies the expected prior state so stale reads surface as
// errors. The state map is mutated only when the transition is valid.
func Transition(state ExecutionState, taskName string, from, to TaskState) error {
	cur, ok := state[taskName]
	if !ok {
		return fmt.Errorf("unknown task in state: %q", taskName)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", taskName, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", taskName, from, to)
	}
	state[taskName] = to
	return nil
}

// PENDING -> FAILED settles a task whose failure was replayed from cache
// without ever starting a process.
func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskCached || to == TaskSkipped || to == TaskFailed
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	default:
		return false
	}
}

// FailAndPropagate marks taskName as FAILED and transitively marks every
// downstream dependent as SKIPPED. Tasks that do not depend on the failed
// one are left untouched.
//
// The skipped set is defined purely by reachability; traversal visits nodes
// in ascending canonical index order so diagnostics stay stable. A RUNNING
// downstream node indicates a scheduling bug and is reported as an error.
func FailAndPropagate(g *TaskGraph, state ExecutionState, taskName string) error {
	if g == nil {
		return fmt.Errorf("nil graph")
	}
	node, ok := g.nodesByName[taskName]
	if !ok {
		return fmt.Errorf("unknown task: %q", taskName)
	}

	cur, ok := state[taskName]
	if !ok {
		return fmt.Errorf("unknown task in state: %q", taskName)
	}
	switch cur {
	case TaskRunning, TaskPending:
		state[taskName] = TaskFailed
	case TaskFailed:
		// Already settled; still propagate skips.
	default:
		return fmt.Errorf("cannot fail %q from state %s", taskName, cur)
	}

	start := node.canonicalIndex
	visited := make([]bool, len(g.nodes))
	visited[start] = true

	frontier := append([]int(nil), g.outgoing[start]...)
	for len(frontier) > 0 {
		sort.Ints(frontier)
		u := frontier[0]
		frontier = frontier[1:]
		if visited[u] {
			continue
		}
		visited[u] = true

		name := g.nodes[u].Name
		st, ok := state[name]
		if !ok {
			return fmt.Errorf("missing state for %q", name)
		}

		switch st {
		case TaskPending:
			state[name] = TaskSkipped
		case TaskRunning:
			return fmt.Errorf("downstream task %q is RUNNING during failure propagation", name)
		}

		for _, v := range g.outgoing[u] {
			if !visited[v] {
				frontier = append(frontier, v)
			}
		}
	}

	return nil
}
