package workflow

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// batchChannelBuffer is the size of the batch channel; a slow consumer
// drops batches rather than blocking the event loop.
const batchChannelBuffer = 16

// Watcher observes a task's input files and emits one batch of changed
// paths per settled burst of filesystem events. The consumer re-runs
// the task per batch; watching never changes task semantics.
type Watcher struct {
	workdir  string
	patterns []string
	debounce time.Duration
	excludes map[string]bool
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]struct{}

	batches chan []string

	droppedBatches atomic.Int64
}

// NewWatcher creates a watcher for input patterns relative to workdir.
// Directories named in exclude, hidden directories, and everything
// below them are ignored.
func NewWatcher(workdir string, patterns []string, debounce time.Duration, exclude []string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	excludes := make(map[string]bool, len(exclude))
	for _, dir := range exclude {
		if dir != "" {
			excludes[dir] = true
		}
	}

	normalized := make([]string, 0, len(patterns))
	for _, p := range patterns {
		normalized = append(normalized, filepath.ToSlash(p))
	}

	return &Watcher{
		workdir:  workdir,
		patterns: normalized,
		debounce: debounce,
		excludes: excludes,
		logger:   logger,
		watcher:  fsw,
		pending:  make(map[string]struct{}),
		batches:  make(chan []string, batchChannelBuffer),
	}, nil
}

// Batches returns the channel of settled change batches. Each batch is
// a sorted list of workdir-relative paths. The channel closes when the
// watcher stops.
func (w *Watcher) Batches() <-chan []string {
	return w.batches
}

// Start adds recursive watches for the pattern roots and begins the
// event loop. It returns once watches are established.
func (w *Watcher) Start(ctx context.Context) error {
	for _, root := range w.watchRoots() {
		if err := w.addWatchesRecursive(root); err != nil {
			return err
		}
	}

	go w.processEvents(ctx)

	w.logger.Info("watching for changes",
		slog.String("workdir", w.workdir),
		slog.Duration("debounce", w.debounce),
		slog.Any("patterns", w.patterns))
	return nil
}

// Stop closes the underlying filesystem watcher. The batch channel is
// closed by the event loop when it exits.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// DroppedBatches returns the number of batches dropped because the
// consumer was still busy.
func (w *Watcher) DroppedBatches() int64 {
	return w.droppedBatches.Load()
}

// watchRoots derives the directories to watch from the patterns: the
// longest literal prefix of each pattern, with roots nested under
// another root removed.
func (w *Watcher) watchRoots() []string {
	seen := make(map[string]struct{})
	var roots []string
	for _, pattern := range w.patterns {
		root := filepath.Join(w.workdir, filepath.FromSlash(patternRoot(pattern)))
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}

	sort.Strings(roots)
	kept := roots[:0]
	for _, root := range roots {
		nested := false
		for _, parent := range kept {
			if root == parent || strings.HasPrefix(root, parent+string(filepath.Separator)) {
				nested = true
				break
			}
		}
		if !nested {
			kept = append(kept, root)
		}
	}
	return kept
}

// patternRoot returns the longest directory prefix of a pattern that
// contains no glob metacharacters.
func patternRoot(pattern string) string {
	parts := strings.Split(pattern, "/")
	var literal []string
	for _, part := range parts {
		if strings.ContainsAny(part, "*?[]{}") {
			break
		}
		literal = append(literal, part)
	}
	if len(literal) == len(parts) && len(parts) > 0 {
		// The whole pattern is a literal path; watch its directory.
		literal = literal[:len(literal)-1]
	}
	if len(literal) == 0 {
		return "."
	}
	return strings.Join(literal, "/")
}

func (w *Watcher) addWatchesRecursive(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			w.logger.Warn("watch root does not exist", slog.String("path", root))
			return nil
		}
		return err
	}
	if !info.IsDir() {
		root = filepath.Dir(root)
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if path != root && (w.excludes[base] || isHiddenName(base)) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
}

func isHiddenName(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// processEvents handles fsnotify events with debouncing.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.batches)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// handleFSEvent records one filesystem event if it matches the input
// patterns, and extends the watch into newly created directories.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
	}

	rel, err := filepath.Rel(w.workdir, path)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	for i, part := range parts {
		if w.excludes[part] {
			return
		}
		// A hidden final component may be a declared input (an rcfile);
		// hidden directories are never watched content.
		if i < len(parts)-1 && isHiddenName(part) {
			return
		}
	}

	if !w.matchesAny(rel) {
		return
	}

	w.pendingMu.Lock()
	w.pending[rel] = struct{}{}
	w.pendingMu.Unlock()

	w.logger.Debug("change detected", slog.String("path", rel), slog.String("op", event.Op.String()))
}

func (w *Watcher) matchesAny(rel string) bool {
	for _, pattern := range w.patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (w *Watcher) handleNewDirectory(path string) {
	base := filepath.Base(path)
	if w.excludes[base] || isHiddenName(base) {
		return
	}
	if err := w.addWatchesRecursive(path); err != nil {
		w.logger.Warn("failed to watch new directory", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// flushPending emits the accumulated changes as one sorted batch.
func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	batch := make([]string, 0, len(w.pending))
	for path := range w.pending {
		batch = append(batch, path)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	sort.Strings(batch)

	select {
	case w.batches <- batch:
		w.logger.Debug("change batch ready", slog.Int("files", len(batch)))
	default:
		dropped := w.droppedBatches.Add(1)
		w.logger.Warn("batch channel full, dropping batch", slog.Int64("total_dropped", dropped))
	}
}
