// Package core provides the execution engine for developer-workflow tasks.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// InputResolver expands declared input patterns into a deterministic
// InputSet.
//
// Patterns use doublestar syntax, so `src/**/*.py` matches recursively.
// Expansion is strictly sorted and deduplicated, and file contents are read
// so task identity follows content, not metadata. Filesystem ordering never
// affects the result.
type InputResolver struct {
	// BaseDir anchors relative patterns.
	BaseDir string
}

// NewInputResolver creates an InputResolver rooted at baseDir.
func NewInputResolver(baseDir string) *InputResolver {
	return &InputResolver{BaseDir: baseDir}
}

// Resolve expands all patterns and returns the sorted, content-read inputs.
//
// A pattern without glob metacharacters is treated as a literal path and
// contributes nothing when the file does not exist; a task may declare
// optional inputs (a lockfile, say) that are only sometimes present.
func (r *InputResolver) Resolve(patterns []string) (*InputSet, error) {
	if len(patterns) == 0 {
		return &InputSet{Inputs: []Input{}}, nil
	}

	pathSet := make(map[string]struct{})
	for _, pattern := range patterns {
		expanded, err := r.expandPattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding pattern %q: %w", pattern, err)
		}
		for _, p := range expanded {
			pathSet[p] = struct{}{}
		}
	}

	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	inputs := make([]Input, 0, len(paths))
	for _, path := range paths {
		fullPath := filepath.FromSlash(path)
		if !filepath.IsAbs(fullPath) {
			fullPath = filepath.Join(r.BaseDir, fullPath)
		}
		content, err := os.ReadFile(fullPath)
		if err != nil {
			return nil, fmt.Errorf("reading input %q: %w", path, err)
		}
		inputs = append(inputs, Input{Path: path, Content: content})
	}

	return &InputSet{Inputs: inputs}, nil
}

// expandPattern expands one pattern into normalized file paths.
func (r *InputResolver) expandPattern(pattern string) ([]string, error) {
	fullPattern := pattern
	if !filepath.IsAbs(pattern) {
		fullPattern = filepath.Join(r.BaseDir, pattern)
	}

	matches, err := doublestar.FilepathGlob(fullPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}

	if len(matches) == 0 && !containsGlobChar(pattern) {
		if _, err := os.Stat(fullPattern); err == nil {
			matches = []string{fullPattern}
		}
	}

	normalized := make([]string, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", match, err)
		}
		if info.IsDir() {
			continue
		}
		normalized = append(normalized, portablePath(r.BaseDir, match))
	}

	return normalized, nil
}

// containsGlobChar reports whether the pattern uses glob metacharacters.
func containsGlobChar(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[]{}")
}
