package dag

import (
	"sort"
)

// ExecutionState maps task name to its current TaskState.
//
// It is a plain map so the scheduler stays a pure function, uncoupled from
// any executor implementation.
type ExecutionState map[string]TaskState

// GetReadyTasks returns the deterministically ordered list of task names
// that are eligible to run: PENDING tasks whose dependencies have all
// settled successfully (COMPLETED or CACHED).
//
// The list is sorted by topological depth, then by name. For the built-in
// check tasks, which share depth zero, this yields the documented
// lint-openapi, lint-style, test order.
//
// The function is pure; it mutates neither graph nor state.
func GetReadyTasks(g *TaskGraph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	ready := make([]string, 0)
	for _, node := range g.nodes {
		st, ok := state[node.Name]
		if !ok || st != TaskPending {
			continue
		}

		depsOK := true
		for _, parentIdx := range g.incoming[node.canonicalIndex] {
			pst, ok := state[g.nodes[parentIdx].Name]
			if !ok || !IsSuccessful(pst) {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, node.Name)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ad, _ := g.Depth(a)
		bd, _ := g.Depth(b)
		if ad != bd {
			return ad < bd
		}
		return a < b
	})

	return ready
}
