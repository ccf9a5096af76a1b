// Package dag models a set of developer-workflow tasks and the dependencies
// between them, and executes the whole set in a deterministic serial order.
//
// The package separates the immutable, validated graph definition (TaskGraph)
// from the mutable per-attempt execution state (ExecutionState), so one graph
// can be executed any number of times. Graph identity (GraphHash) derives from
// task definition content and the canonicalized edge structure, making it
// invariant to the insertion order of tasks and edges.
//
// A failing task never stops unrelated work: only its transitive dependents
// are skipped. Independent siblings still run, and the pipeline reports the
// first failure in settlement order.
//
// Every run also yields a canonical execution trace (GraphResult.TraceBytes)
// recording what settled how; identical decisions give identical bytes.
package dag
