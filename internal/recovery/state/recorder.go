package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunRecorder persists run lifecycle records: metadata when a run
// starts, its final status when it settles, and the first failure when
// one occurs. All writes go through Store (atomic + durable).
type RunRecorder struct {
	Store *Store
}

// NewRunID returns a fresh random UUID for a run.
func (r *RunRecorder) NewRunID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (r *RunRecorder) StartRun(run Run) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return r.Store.SaveRun(run)
}

// FinishRun rewrites run.json with the run's final status.
func (r *RunRecorder) FinishRun(runID string, status RunStatus) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	run, err := r.Store.LoadRun(runID)
	if err != nil {
		return err
	}
	run.Status = status
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return r.Store.SaveRun(run)
}

func (r *RunRecorder) RecordFailure(runID string, err error) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	f, ferr := failureFromError(err)
	if ferr != nil {
		return ferr
	}
	return r.Store.SaveFailure(runID, f)
}
