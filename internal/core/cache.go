// Package core provides the execution engine for developer-workflow tasks.
package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StepRecord is the persisted outcome of one step: which step ran and how
// it exited. The last record of a failed task carries the non-zero code.
type StepRecord struct {
	// Name is the step name from the task definition.
	Name string `json:"name"`

	// ExitCode is the step's exit code.
	ExitCode int `json:"exit_code"`
}

// CacheEntry is the stored result of one task execution: combined output
// streams, the per-step breakdown, the final exit code and the harvested
// artifacts. Failed executions are cacheable; they carry no artifacts.
type CacheEntry struct {
	// Hash identifies this entry.
	Hash TaskHash `json:"hash"`

	// Stdout is the captured standard output of all steps, in order.
	Stdout []byte `json:"stdout"`

	// Stderr is the captured standard error of all steps, in order.
	Stderr []byte `json:"stderr"`

	// Steps records each executed step and its exit code.
	Steps []StepRecord `json:"steps,omitempty"`

	// ExitCode is the task exit code: 0, or the first failing step's code.
	ExitCode int `json:"exit_code"`

	// Artifacts contains the harvested output files.
	Artifacts []CachedArtifact `json:"artifacts"`
}

// CachedArtifact is a single artifact stored in the cache.
type CachedArtifact struct {
	// Path is the normalized path of the artifact.
	Path string `json:"path"`

	// Content is the artifact file content.
	Content []byte `json:"content"`
}

// Cache stores and retrieves task execution results. A hash that has been
// seen before is never re-executed in incremental mode; its result replays
// exactly.
type Cache interface {
	// Has checks whether an entry exists for the given hash.
	Has(hash TaskHash) (bool, error)

	// Get retrieves an entry by hash. Returns nil when absent.
	Get(hash TaskHash) (*CacheEntry, error)

	// Put stores an entry.
	Put(entry *CacheEntry) error
}

// FileCache implements Cache on the filesystem.
//
// Structure:
//
//	{CacheDir}/
//	  {hash[0:2]}/
//	    {hash}/
//	      metadata.json  (streams, steps, exit code, artifact paths)
//	      artifacts/
//	        {index}.blob
type FileCache struct {
	// CacheDir is the root directory for cache storage.
	CacheDir string
}

// NewFileCache creates a filesystem-backed cache rooted at cacheDir.
func NewFileCache(cacheDir string) *FileCache {
	return &FileCache{CacheDir: cacheDir}
}

// Has checks whether an entry exists for the given hash.
func (c *FileCache) Has(hash TaskHash) (bool, error) {
	metadataPath := filepath.Join(c.entryPath(hash), "metadata.json")

	_, err := os.Stat(metadataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking cache entry: %w", err)
	}
	return true, nil
}

// Get retrieves an entry by hash.
func (c *FileCache) Get(hash TaskHash) (*CacheEntry, error) {
	entryDir := c.entryPath(hash)
	metadataPath := filepath.Join(entryDir, "metadata.json")

	data, err := os.ReadFile(metadataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache metadata: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing cache metadata: %w", err)
	}

	artifactsDir := filepath.Join(entryDir, "artifacts")
	for i := range entry.Artifacts {
		blobPath := filepath.Join(artifactsDir, fmt.Sprintf("%d.blob", i))
		content, err := os.ReadFile(blobPath)
		if err != nil {
			return nil, fmt.Errorf("reading artifact %d: %w", i, err)
		}
		entry.Artifacts[i].Content = content
	}

	return &entry, nil
}

// Put stores an entry.
//
// The entry is assembled in a temp directory and renamed into place so a
// crash cannot leave corrupt metadata or partial blobs at the canonical
// path. A crash between remove and rename yields a cache miss, not
// corruption.
func (c *FileCache) Put(entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}

	entryDir := c.entryPath(entry.Hash)
	parentDir := filepath.Dir(entryDir)

	// Parent must exist so the temp dir is on the same filesystem.
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmpDir, err := os.MkdirTemp(parentDir, "tmp-entry-"+string(entry.Hash)+"-")
	if err != nil {
		return fmt.Errorf("creating temp cache entry dir: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = os.RemoveAll(tmpDir)
	}()

	artifactsDir := filepath.Join(tmpDir, "artifacts")
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return fmt.Errorf("creating cache artifacts dir: %w", err)
	}

	// Blobs first; metadata only appears after all blobs succeed.
	for i, artifact := range entry.Artifacts {
		blobPath := filepath.Join(artifactsDir, fmt.Sprintf("%d.blob", i))
		if err := atomicWriteFile(blobPath, artifact.Content, 0o644); err != nil {
			return fmt.Errorf("writing artifact %d: %w", i, err)
		}
	}

	// Metadata holds artifact paths only; content lives in the blobs.
	metadata := CacheEntry{
		Hash:      entry.Hash,
		Stdout:    entry.Stdout,
		Stderr:    entry.Stderr,
		Steps:     entry.Steps,
		ExitCode:  entry.ExitCode,
		Artifacts: make([]CachedArtifact, len(entry.Artifacts)),
	}
	for i, a := range entry.Artifacts {
		metadata.Artifacts[i] = CachedArtifact{Path: a.Path}
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache metadata: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(tmpDir, "metadata.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing cache metadata: %w", err)
	}

	_ = os.RemoveAll(entryDir)
	if err := os.Rename(tmpDir, entryDir); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	committed = true
	return nil
}

// entryPath returns the directory for a cache entry. The first two hash
// characters form a prefix directory to keep single directories small.
func (c *FileCache) entryPath(hash TaskHash) string {
	hashStr := string(hash)
	if len(hashStr) < 2 {
		return filepath.Join(c.CacheDir, hashStr)
	}
	return filepath.Join(c.CacheDir, hashStr[:2], hashStr)
}

// MemoryCache implements Cache in memory, for tests and short-lived runs.
type MemoryCache struct {
	entries map[TaskHash]*CacheEntry
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[TaskHash]*CacheEntry)}
}

// Has checks whether an entry exists.
func (c *MemoryCache) Has(hash TaskHash) (bool, error) {
	_, exists := c.entries[hash]
	return exists, nil
}

// Get retrieves a copy of an entry so callers cannot mutate the stored one.
func (c *MemoryCache) Get(hash TaskHash) (*CacheEntry, error) {
	entry, exists := c.entries[hash]
	if !exists {
		return nil, nil
	}
	return copyEntry(entry), nil
}

// Put stores a copy of an entry.
func (c *MemoryCache) Put(entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}
	c.entries[entry.Hash] = copyEntry(entry)
	return nil
}

func copyEntry(entry *CacheEntry) *CacheEntry {
	cp := &CacheEntry{
		Hash:      entry.Hash,
		Stdout:    append([]byte(nil), entry.Stdout...),
		Stderr:    append([]byte(nil), entry.Stderr...),
		Steps:     append([]StepRecord(nil), entry.Steps...),
		ExitCode:  entry.ExitCode,
		Artifacts: make([]CachedArtifact, len(entry.Artifacts)),
	}
	for i, a := range entry.Artifacts {
		cp.Artifacts[i] = CachedArtifact{
			Path:    a.Path,
			Content: append([]byte(nil), a.Content...),
		}
	}
	return cp
}
