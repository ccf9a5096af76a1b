// Package core provides the execution engine for developer-workflow tasks.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReplayResult is the outcome of replaying a cached execution.
type ReplayResult struct {
	// Stdout is the cached standard output.
	Stdout []byte

	// Stderr is the cached standard error.
	Stderr []byte

	// Steps is the cached per-step breakdown.
	Steps []StepRecord

	// ExitCode is the cached exit code.
	ExitCode int

	// Hash is the TaskHash that was replayed.
	Hash TaskHash

	// ArtifactsRestored counts artifacts actually written back to the
	// workspace (already-correct files are left alone).
	ArtifactsRestored int
}

// Replayer restores cached execution results to the workspace so a cache
// hit is indistinguishable from a fresh run: same streams, same exit code,
// bit-for-bit identical artifacts at their declared paths.
type Replayer struct {
	// WorkingDir is the directory artifacts are restored into.
	WorkingDir string
}

// NewReplayer creates a Replayer rooted at workingDir.
func NewReplayer(workingDir string) *Replayer {
	return &Replayer{WorkingDir: workingDir}
}

// Replay restores a cached execution result to the workspace.
func (r *Replayer) Replay(entry *CacheEntry) (*ReplayResult, error) {
	if entry == nil {
		return nil, fmt.Errorf("cache entry is nil")
	}

	restored, err := r.RestoreArtifacts(entry.Hash.String(), entry)
	if err != nil {
		return nil, err
	}

	return &ReplayResult{
		Stdout:            entry.Stdout,
		Stderr:            entry.Stderr,
		Steps:             entry.Steps,
		ExitCode:          entry.ExitCode,
		Hash:              entry.Hash,
		ArtifactsRestored: restored,
	}, nil
}

// RestoreArtifacts ensures the workspace artifacts for a cached task are
// present with correct content.
//
// Each artifact's target is hashed if it exists; matching files are left
// untouched, everything else is written atomically. An artifact that is
// missing from the cache entry is a hard error.
//
// taskID is used only for error messages.
func (r *Replayer) RestoreArtifacts(taskID string, entry *CacheEntry) (int, error) {
	if r == nil {
		return 0, fmt.Errorf("replayer is nil")
	}
	if entry == nil {
		return 0, fmt.Errorf("cache entry is nil")
	}

	restored := 0
	for _, artifact := range entry.Artifacts {
		if artifact.Path == "" {
			return restored, fmt.Errorf("task %q: artifact path is empty", taskID)
		}
		if artifact.Content == nil {
			return restored, fmt.Errorf("task %q: artifact %q missing content in cache entry", taskID, artifact.Path)
		}

		targetPath, err := r.targetPathForArtifact(artifact.Path)
		if err != nil {
			return restored, fmt.Errorf("task %q: resolving artifact %q target path: %w", taskID, artifact.Path, err)
		}

		wantHash := sha256Hex(artifact.Content)
		haveHash, ok, err := fileSHA256HexIfExists(targetPath)
		if err != nil {
			return restored, fmt.Errorf("task %q: hashing existing artifact %q: %w", taskID, artifact.Path, err)
		}
		if ok && haveHash == wantHash {
			continue
		}

		if err := atomicWriteFile(targetPath, artifact.Content, 0o644); err != nil {
			return restored, fmt.Errorf("task %q: restoring artifact %q: %w", taskID, artifact.Path, err)
		}
		restored++
	}

	return restored, nil
}

func (r *Replayer) targetPathForArtifact(artifactPath string) (string, error) {
	targetPath := artifactPath
	if !filepath.IsAbs(artifactPath) {
		targetPath = filepath.Join(r.WorkingDir, artifactPath)
	}
	targetPath = filepath.FromSlash(targetPath)

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}
	return targetPath, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func fileSHA256HexIfExists(path string) (hash string, exists bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", true, err
	}
	return hex.EncodeToString(h.Sum(nil)), true, nil
}

// atomicWriteFile writes content to path via a temp file in the same
// directory followed by a rename over the destination.
func atomicWriteFile(path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
