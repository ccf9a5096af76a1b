package workflow

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestPatternRoot(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"openapi/**/*.{yaml,yml,json}", "openapi"},
		{"src/**/*.py", "src"},
		{"tests/*.py", "tests"},
		{"**/*.py", "."},
		{".pylintrc", "."},
		{"config/settings.yaml", "config"},
		{"a/b/*.txt", "a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, patternRoot(tt.pattern))
		})
	}
}

func TestWatchRootsCollapseNestedDirectories(t *testing.T) {
	workdir := t.TempDir()

	w, err := NewWatcher(workdir, []string{".pylintrc", "src/**/*.py"}, time.Second, nil, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	// The dotfile pattern pins the workdir root, which subsumes src.
	assert.Equal(t, []string{workdir}, w.watchRoots())

	w2, err := NewWatcher(workdir, []string{"openapi/**/*.yaml", "src/**/*.py"}, time.Second, nil, testLogger())
	require.NoError(t, err)
	defer w2.Stop()

	assert.Equal(t,
		[]string{filepath.Join(workdir, "openapi"), filepath.Join(workdir, "src")},
		w2.watchRoots())
}

// collectPaths receives batches until every wanted path has been seen,
// returning the union of everything received along the way.
func collectPaths(t *testing.T, batches <-chan []string, want ...string) map[string]bool {
	t.Helper()
	deadline := time.After(5 * time.Second)
	seen := make(map[string]bool)
	for {
		select {
		case batch, ok := <-batches:
			require.True(t, ok, "batch channel closed while waiting for %v", want)
			assert.True(t, sort.StringsAreSorted(batch), "batch %v is not sorted", batch)
			for _, path := range batch {
				seen[path] = true
			}
			remaining := false
			for _, path := range want {
				if !seen[path] {
					remaining = true
					break
				}
			}
			if !remaining {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v, saw %v", want, seen)
		}
	}
}

func writeFile(t *testing.T, workdir, rel, content string) {
	t.Helper()
	path := filepath.Join(workdir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcherBatchesMatchingChanges(t *testing.T) {
	workdir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workdir, "src"), 0o755))

	w, err := NewWatcher(workdir, []string{"src/**/*.py"}, 50*time.Millisecond, []string{"build"}, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	// Give the watcher time to set up.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, workdir, "src/app.py", "print('hi')\n")
	writeFile(t, workdir, "src/util.py", "x = 1\n")
	writeFile(t, workdir, "src/notes.txt", "not python\n")

	seen := collectPaths(t, w.Batches(), "src/app.py", "src/util.py")
	assert.False(t, seen["src/notes.txt"], "non-matching file must not be batched")
	assert.Zero(t, w.DroppedBatches())
}

func TestWatcherSeesRootDotfileInput(t *testing.T) {
	workdir := t.TempDir()

	w, err := NewWatcher(workdir, []string{".pylintrc", "src/**/*.py"}, 50*time.Millisecond, nil, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	time.Sleep(100 * time.Millisecond)

	writeFile(t, workdir, ".pylintrc", "[MASTER]\n")

	collectPaths(t, w.Batches(), ".pylintrc")
}

func TestWatcherIgnoresExcludedAndHiddenDirectories(t *testing.T) {
	workdir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workdir, "build"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(workdir, ".venv"), 0o755))

	w, err := NewWatcher(workdir, []string{"**/*.py"}, 50*time.Millisecond, []string{"build"}, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	time.Sleep(100 * time.Millisecond)

	writeFile(t, workdir, "build/gen.py", "generated\n")
	writeFile(t, workdir, ".venv/lib.py", "vendored\n")
	writeFile(t, workdir, "app.py", "print('hi')\n")

	// The three writes land in the same debounce window, so if the
	// filters were broken the sentinel batch would carry the others.
	seen := collectPaths(t, w.Batches(), "app.py")
	assert.False(t, seen["build/gen.py"], "excluded directory must not be batched")
	assert.False(t, seen[".venv/lib.py"], "hidden directory must not be batched")
}

func TestWatcherExtendsIntoNewDirectories(t *testing.T) {
	workdir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workdir, "src"), 0o755))

	w, err := NewWatcher(workdir, []string{"src/**/*.py"}, 50*time.Millisecond, nil, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.MkdirAll(filepath.Join(workdir, "src", "pkg"), 0o755))

	// Give the watcher time to pick up the new directory.
	time.Sleep(200 * time.Millisecond)

	writeFile(t, workdir, "src/pkg/mod.py", "y = 2\n")

	collectPaths(t, w.Batches(), "src/pkg/mod.py")
}

func TestWatcherToleratesMissingRoot(t *testing.T) {
	workdir := t.TempDir()

	w, err := NewWatcher(workdir, []string{"docs/**/*.md"}, 50*time.Millisecond, nil, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx), "a pattern root that does not exist yet is not an error")
}

func TestWatcherClosesBatchChannelOnCancel(t *testing.T) {
	workdir := t.TempDir()

	w, err := NewWatcher(workdir, []string{"**/*.py"}, 50*time.Millisecond, nil, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	cancel()

	select {
	case _, ok := <-w.Batches():
		assert.False(t, ok, "batch channel should close after cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch channel to close")
	}
}
