package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExecutionMode selects how a run treats previously computed results.
type ExecutionMode string

const (
	// ExecutionModeClean executes every task fresh.
	ExecutionModeClean ExecutionMode = "clean"

	// ExecutionModeIncremental replays unchanged tasks from the content
	// cache and writes per-task checkpoints.
	ExecutionModeIncremental ExecutionMode = "incremental"
)

// RunStatus is a run's lifecycle state as persisted in run.json.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the persistent metadata of one pipeline invocation.
type Run struct {
	RunID     string        `json:"run_id"`
	GraphHash string        `json:"graph_hash"`
	StartTime time.Time     `json:"start_time"`
	Mode      ExecutionMode `json:"mode"`
	Status    RunStatus     `json:"status"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	} else if err := uuid.Validate(r.RunID); err != nil {
		errs = append(errs, fmt.Errorf("run_id must be a UUID: %w", err))
	}
	if strings.TrimSpace(r.GraphHash) == "" {
		errs = append(errs, errors.New("graph_hash is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Mode {
	case ExecutionModeClean, ExecutionModeIncremental:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", r.Mode))
	}
	switch r.Status {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Checkpoint records one task's successful completion within a run:
// the content hash it settled under, its declared outputs, and a digest
// of the harvested output bytes. Checkpoints are written in incremental
// mode only.
type Checkpoint struct {
	Task       string   `json:"task"`
	TaskHash   string   `json:"task_hash"`
	Outputs    []string `json:"outputs"`
	ExitCode   int      `json:"exit_code"`
	FromCache  bool     `json:"from_cache"`
	OutputHash string   `json:"output_hash"`
	Valid      bool     `json:"valid"`
}

func (c Checkpoint) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Task) == "" {
		errs = append(errs, errors.New("task is required"))
	}
	if strings.TrimSpace(c.TaskHash) == "" {
		errs = append(errs, errors.New("task_hash is required"))
	}
	if c.Outputs == nil {
		errs = append(errs, errors.New("outputs must be an array (not null)"))
	}
	for i, o := range c.Outputs {
		if strings.TrimSpace(o) == "" {
			errs = append(errs, fmt.Errorf("outputs[%d] must not be empty", i))
		}
	}
	if c.ExitCode != 0 {
		errs = append(errs, fmt.Errorf("checkpoints record successes only, got exit code %d", c.ExitCode))
	}
	if strings.TrimSpace(c.OutputHash) == "" {
		errs = append(errs, errors.New("output_hash is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// FailureClass is the coarse taxonomy for run failures.
type FailureClass string

const (
	// FailureClassGraph covers invalid task or graph definitions,
	// detected before anything runs.
	FailureClassGraph FailureClass = "graph"

	// FailureClassWorkspace covers broken working trees: unreadable
	// config, uncreatable directories, a corrupt cache or state store.
	FailureClassWorkspace FailureClass = "workspace"

	// FailureClassExecution covers a wrapped tool exiting non-zero.
	FailureClassExecution FailureClass = "execution"

	// FailureClassSystem covers panics and engine errors.
	FailureClassSystem FailureClass = "system"
)

// Failure is the recorded first failure of a run.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	Task         *string      `json:"task,omitempty"`
	ExitCode     int          `json:"exit_code,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassGraph, FailureClassWorkspace, FailureClassExecution, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.Task != nil && strings.TrimSpace(*f.Task) == "" {
		errs = append(errs, errors.New("task must not be empty when provided"))
	}
	if f.ExitCode != 0 && f.FailureClass != FailureClassExecution {
		errs = append(errs, fmt.Errorf("exit_code %d only belongs on execution failures", f.ExitCode))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
