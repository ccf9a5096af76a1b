package dag

import (
	"sort"
)

// validateAcyclic proves the graph has no cycles via Kahn's algorithm. When
// a cycle exists, one deterministic witness path is extracted for the error.
func (g *TaskGraph) validateAcyclic() error {
	if len(g.topoOrderIndices()) == len(g.nodes) {
		return nil
	}
	return cycleError(g.findCycleWitness())
}

// topoOrderIndices returns a deterministic topological ordering of node
// indices. The ready frontier is kept sorted so the smallest canonical
// index is always dispatched first; task graphs are small enough that the
// re-sort never matters.
func (g *TaskGraph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	frontier := make([]int, 0, len(indeg))
	for i := range indeg {
		if indeg[i] == 0 {
			frontier = append(frontier, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for len(frontier) > 0 {
		sort.Ints(frontier)
		n := frontier[0]
		frontier = frontier[1:]
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				frontier = append(frontier, m)
			}
		}
	}
	return out
}

// findCycleWitness runs a deterministic DFS over canonical indices and
// returns the names along one cycle, closed at both ends. It makes no
// attempt to enumerate all cycles.
func (g *TaskGraph) findCycleWitness() []string {
	const (
		unvisited = iota
		onStack
		done
	)

	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = onStack
		for _, v := range g.outgoing[u] {
			if color[v] == unvisited {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == onStack {
				// Back-edge u -> v: walk parents from u back to v.
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = done
		return false
	}

	for i := 0; i < len(g.nodes); i++ {
		if color[i] == unvisited && dfs(i) {
			break
		}
	}

	if len(cycle) == 0 {
		return nil
	}

	// The parent walk produced the cycle in reverse; flip it so the path
	// reads in edge direction.
	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.nodes[cycle[i]].Name)
	}
	return out
}
