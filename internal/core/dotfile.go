// Package core provides the execution engine for developer-workflow tasks.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DotfileWriter applies FileStep declarations: it ensures a JSON document
// contains the declared keys while preserving everything else the user put
// there. Writes are atomic and skipped entirely when the document already
// matches, so repeated runs leave byte-identical content.
type DotfileWriter struct {
	// HomeDir resolves a leading "~/" in step paths. Defaults to the
	// current user's home directory; tests pin it to a temp dir.
	HomeDir func() (string, error)
}

// NewDotfileWriter creates a DotfileWriter using the OS home directory.
func NewDotfileWriter() *DotfileWriter {
	return &DotfileWriter{HomeDir: os.UserHomeDir}
}

// Apply merges the step's keys into the JSON document at the step's path.
//
// A missing file starts as an empty object. An existing file that is not
// valid JSON is replaced wholesale by the built object. Keys are applied in
// sorted order; unrelated keys in a valid existing document survive.
//
// Returns whether the file was written. No write happens when the existing
// content already equals the merged result.
func (w *DotfileWriter) Apply(step *FileStep) (written bool, err error) {
	if step == nil {
		return false, fmt.Errorf("file step is nil")
	}
	if step.Path == "" {
		return false, fmt.Errorf("file step path is empty")
	}

	path, err := w.expandPath(step.Path)
	if err != nil {
		return false, fmt.Errorf("resolving %q: %w", step.Path, err)
	}

	current, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("reading %q: %w", path, err)
	}

	doc := current
	if len(doc) == 0 || !gjson.ValidBytes(doc) {
		doc = []byte("{}")
	}

	keys := make([]string, 0, len(step.Set))
	for k := range step.Set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		doc, err = sjson.SetBytes(doc, k, step.Set[k])
		if err != nil {
			return false, fmt.Errorf("setting %q in %q: %w", k, path, err)
		}
	}

	if string(doc) == string(current) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating parent of %q: %w", path, err)
	}
	if err := atomicWriteFile(path, doc, 0o644); err != nil {
		return false, fmt.Errorf("writing %q: %w", path, err)
	}
	return true, nil
}

func (w *DotfileWriter) expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := w.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

func (w *DotfileWriter) homeDir() (string, error) {
	if w.HomeDir != nil {
		return w.HomeDir()
	}
	return os.UserHomeDir()
}
