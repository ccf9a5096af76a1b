package dag

import "devrunner/internal/core"

// GraphHash is the deterministic identity of a TaskGraph.
//
// It is computed solely from task definition content and dependency
// structure, so it is stable across different insertion orders of tasks
// and edges.
type GraphHash string

// String returns the hex representation of the GraphHash.
func (h GraphHash) String() string { return string(h) }

// TaskDefHash is the deterministic identity of a task definition.
//
// It is distinct from core.TaskHash: a TaskHash additionally covers resolved
// input file contents and the working directory, while a TaskDefHash covers
// only the declarative definition and so survives workspace changes.
type TaskDefHash string

// String returns the hex representation of the TaskDefHash.
func (h TaskDefHash) String() string { return string(h) }

// Edge is a dependency relation: To runs only after From succeeded.
type Edge struct {
	From string
	To   string
}

// TaskNode is an immutable node in a TaskGraph.
//
// Name addresses the node in edges and diagnostics. The graph hash derives
// from the definition hash and the canonicalized dependency structure.
type TaskNode struct {
	Name           string
	Task           core.Task
	DefinitionHash TaskDefHash
	canonicalIndex int
}

// CanonicalIndex returns the node's deterministic position in the graph's
// canonical ordering.
func (n *TaskNode) CanonicalIndex() int { return n.canonicalIndex }
