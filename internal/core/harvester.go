// Package core provides the execution engine for developer-workflow tasks.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Harvester collects artifacts from declared output paths after a task
// succeeds.
//
// Only files explicitly declared in the task's outputs are collected; there
// is no scanning for "all modified files". A declared output that the task
// failed to produce is an error, since downstream consumers (CI, the cache)
// rely on it existing.
type Harvester struct {
	// BaseDir anchors relative output paths.
	BaseDir string

	// Normalizer is applied to artifact contents before capture.
	// If nil, raw bytes are preserved.
	Normalizer OutputNormalizer
}

// OutputNormalizer removes nondeterministic data (timestamps, PIDs) from
// captured content.
type OutputNormalizer interface {
	Normalize(content []byte) []byte
}

// NewHarvester creates a Harvester with raw (unnormalized) capture.
func NewHarvester(baseDir string) *Harvester {
	return &Harvester{BaseDir: baseDir}
}

// NewHarvesterWithNormalizer creates a Harvester with a custom normalizer.
func NewHarvesterWithNormalizer(baseDir string, normalizer OutputNormalizer) *Harvester {
	return &Harvester{BaseDir: baseDir, Normalizer: normalizer}
}

// Harvest collects artifacts from the declared output paths.
//
// Files are collected directly; directories are walked recursively. All
// collected paths are sorted and deduplicated before contents are read, so
// the resulting set is deterministic regardless of filesystem ordering.
// Paths under BaseDir are recorded relative to it with forward slashes,
// keeping cache entries and traces portable across workspaces.
func (h *Harvester) Harvest(declaredOutputs []string) (*ArtifactSet, error) {
	if len(declaredOutputs) == 0 {
		return &ArtifactSet{Artifacts: []Artifact{}}, nil
	}

	var allPaths []string
	for _, output := range declaredOutputs {
		fullPath := output
		if !filepath.IsAbs(output) {
			fullPath = filepath.Join(h.BaseDir, output)
		}

		info, err := os.Stat(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("declared output does not exist: %s", output)
			}
			return nil, fmt.Errorf("stat output %q: %w", output, err)
		}

		if info.IsDir() {
			files, err := h.collectFilesFromDir(fullPath)
			if err != nil {
				return nil, fmt.Errorf("collecting files from %q: %w", output, err)
			}
			allPaths = append(allPaths, files...)
		} else {
			allPaths = append(allPaths, fullPath)
		}
	}

	sort.Strings(allPaths)
	allPaths = deduplicateSorted(allPaths)

	artifacts := make([]Artifact, 0, len(allPaths))
	for _, path := range allPaths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading artifact %q: %w", path, err)
		}
		if h.Normalizer != nil {
			content = h.Normalizer.Normalize(content)
		}
		artifacts = append(artifacts, Artifact{
			Path:    portablePath(h.BaseDir, path),
			Content: content,
		})
	}

	return &ArtifactSet{Artifacts: artifacts}, nil
}

// portablePath maps a resolved file path to the form recorded in input
// and artifact sets: relative to baseDir when the file lives under it,
// absolute otherwise, always with forward slashes. Recorded paths feed
// task hashes and traces, so they must not vary with the workspace
// location.
func portablePath(baseDir, path string) string {
	if baseDir != "" {
		if rel, err := filepath.Rel(baseDir, path); err == nil &&
			rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

// collectFilesFromDir recursively collects all files under dir, sorted.
func (h *Harvester) collectFilesFromDir(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// deduplicateSorted removes duplicates from a sorted slice.
func deduplicateSorted(sorted []string) []string {
	if len(sorted) == 0 {
		return sorted
	}

	result := make([]string, 0, len(sorted))
	result = append(result, sorted[0])
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			result = append(result, sorted[i])
		}
	}
	return result
}
