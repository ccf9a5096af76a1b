package state

import (
	"errors"
	"fmt"
)

// GraphFailureError marks an invalid task or graph definition, caught
// before anything runs.
type GraphFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *GraphFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("graph failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("graph failure: %s", e.Message)
}

func (e *GraphFailureError) Unwrap() error { return e.Cause }

// WorkspaceFailureError marks a broken working tree: unreadable
// configuration, an uncreatable build or state directory, a corrupt
// cache.
type WorkspaceFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *WorkspaceFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("workspace failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("workspace failure: %s", e.Message)
}

func (e *WorkspaceFailureError) Unwrap() error { return e.Cause }

// ExecutionFailureError marks a task whose command ran and exited
// non-zero. ExitCode carries the wrapped tool's code unchanged.
type ExecutionFailureError struct {
	Task     string
	ExitCode int
	Code     string
	Message  string
	Cause    error
}

func (e *ExecutionFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Task != "" {
		return fmt.Sprintf("task %q exited %d: %s", e.Task, e.ExitCode, e.Message)
	}
	return fmt.Sprintf("execution failure: %s", e.Message)
}

func (e *ExecutionFailureError) Unwrap() error { return e.Cause }

// SystemFailureError marks a panic or violated engine invariant.
type SystemFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *SystemFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("system failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("system failure: %s", e.Message)
}

func (e *SystemFailureError) Unwrap() error { return e.Cause }

// failureFromError classifies err into a persistable Failure record.
// Unrecognized errors land in the system class so nothing is silently
// dropped.
func failureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	var gf *GraphFailureError
	if errors.As(err, &gf) && gf != nil {
		return Failure{
			FailureClass: FailureClassGraph,
			ErrorCode:    nonEmptyOr(gf.Code, "InvalidGraph"),
			ErrorMessage: nonEmptyOr(gf.Message, gf.Error()),
		}, nil
	}

	var wf *WorkspaceFailureError
	if errors.As(err, &wf) && wf != nil {
		return Failure{
			FailureClass: FailureClassWorkspace,
			ErrorCode:    nonEmptyOr(wf.Code, "WorkspaceUnavailable"),
			ErrorMessage: nonEmptyOr(wf.Message, wf.Error()),
		}, nil
	}

	var ef *ExecutionFailureError
	if errors.As(err, &ef) && ef != nil {
		var taskPtr *string
		if ef.Task != "" {
			t := ef.Task
			taskPtr = &t
		}
		return Failure{
			FailureClass: FailureClassExecution,
			Task:         taskPtr,
			ExitCode:     ef.ExitCode,
			ErrorCode:    nonEmptyOr(ef.Code, "TaskFailed"),
			ErrorMessage: nonEmptyOr(ef.Message, ef.Error()),
		}, nil
	}

	var sf *SystemFailureError
	if errors.As(err, &sf) && sf != nil {
		return Failure{
			FailureClass: FailureClassSystem,
			ErrorCode:    nonEmptyOr(sf.Code, "InternalError"),
			ErrorMessage: nonEmptyOr(sf.Message, sf.Error()),
		}, nil
	}

	return Failure{
		FailureClass: FailureClassSystem,
		ErrorCode:    "InternalError",
		ErrorMessage: err.Error(),
	}, nil
}

func nonEmptyOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
