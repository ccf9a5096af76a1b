package dag

// TaskState is the runtime execution state of a node. It lives outside
// TaskGraph, which stays immutable across execution attempts.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskSkipped   TaskState = "SKIPPED"
	TaskCached    TaskState = "CACHED"
)

// IsTerminal reports whether the state is terminal.
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskCached:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependent tasks.
func IsSuccessful(s TaskState) bool {
	switch s {
	case TaskCompleted, TaskCached:
		return true
	default:
		return false
	}
}
