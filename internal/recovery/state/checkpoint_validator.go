package state

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"devrunner/internal/core"
)

// CheckpointValidator validates task completion evidence and persists
// checkpoints. A checkpoint asserts replayable success:
//
//   - the task exited zero
//   - its declared outputs exist on disk and hash stably
//   - the content cache holds the entry recorded for its task hash
//
// Checkpoint persistence is atomic and durable via Store.
type CheckpointValidator struct {
	Store     *Store
	Cache     core.Cache
	Harvester *core.Harvester
}

// CheckpointInput is the evidence gathered for one settled task.
type CheckpointInput struct {
	RunID    string
	Task     string
	TaskHash core.TaskHash

	DeclaredOutputs []string
	ExitCode        int
	FromCache       bool
}

// CreateAndSave validates the provided evidence and, if valid, writes a
// checkpoint. Returns a descriptive error if any criterion fails.
func (v *CheckpointValidator) CreateAndSave(in CheckpointInput) (Checkpoint, error) {
	if v == nil {
		return Checkpoint{}, errors.New("nil CheckpointValidator")
	}
	if v.Store == nil {
		return Checkpoint{}, errors.New("Store is required")
	}
	if v.Cache == nil {
		return Checkpoint{}, errors.New("Cache is required")
	}
	if v.Harvester == nil {
		return Checkpoint{}, errors.New("Harvester is required")
	}

	var errs []error
	if strings.TrimSpace(in.RunID) == "" {
		errs = append(errs, errors.New("runID is required"))
	}
	if strings.TrimSpace(in.Task) == "" {
		errs = append(errs, errors.New("task is required"))
	}
	if strings.TrimSpace(in.TaskHash.String()) == "" {
		errs = append(errs, errors.New("task hash is required"))
	}

	if in.ExitCode != 0 {
		errs = append(errs, fmt.Errorf("task did not succeed (exit_code=%d)", in.ExitCode))
	}

	// Re-harvest declared outputs and hash them. The harvester normalizes
	// and sorts paths, so the hash is stable across runs.
	outputHash := ""
	if len(errs) == 0 { // avoid extra IO when already invalid
		artifactSet, err := v.Harvester.Harvest(in.DeclaredOutputs)
		if err != nil {
			errs = append(errs, fmt.Errorf("harvesting outputs: %w", err))
		} else {
			outputHash = computeArtifactSetHash(artifactSet)
		}
	}

	if len(errs) == 0 {
		exists, err := v.Cache.Has(in.TaskHash)
		if err != nil {
			errs = append(errs, fmt.Errorf("checking cache entry: %w", err))
		} else if !exists {
			errs = append(errs, fmt.Errorf("cache entry missing for task hash %s", in.TaskHash))
		}
	}

	if len(errs) != 0 {
		return Checkpoint{}, errors.Join(errs...)
	}

	outputs := in.DeclaredOutputs
	if outputs == nil {
		outputs = []string{}
	}
	cp := Checkpoint{
		Task:       in.Task,
		TaskHash:   in.TaskHash.String(),
		Outputs:    outputs,
		ExitCode:   0,
		FromCache:  in.FromCache,
		OutputHash: outputHash,
		Valid:      true,
	}
	if err := v.Store.SaveCheckpoint(in.RunID, cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

func computeArtifactSetHash(set *core.ArtifactSet) string {
	// Deterministic hash over the harvested artifacts.
	h := sha256.New()
	if set == nil {
		h.Write([]byte("nil"))
		return hex.EncodeToString(h.Sum(nil))
	}
	for _, a := range set.Artifacts {
		writeLenPrefixed(h, []byte(a.Path))
		writeLenPrefixed(h, a.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeLenPrefixed(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(b)
}
