package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deyu-Zhang/canvas-ai/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func startWatcher(t *testing.T, root string, st store.Store) *Watcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := New(root, st, 50*time.Millisecond, logger)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { w.Stop() })
	return w
}

func waitForStale(t *testing.T, st store.Store, courseID, remoteID int64) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := st.ListLocal(context.Background())
		require.NoError(t, err)
		for _, e := range entries {
			if e.CourseID == courseID && e.RemoteID == remoteID && e.Stale {
				return true
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestWatcher_FlagsEditedFile(t *testing.T) {
	root := t.TempDir()
	st := newTestStore(t)
	ctx := context.Background()

	dir := filepath.Join(root, "Algorithms", "Files")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	require.NoError(t, st.UpsertLocal(ctx, store.LocalEntry{
		CourseID: 1, RemoteID: 10,
		Path:        "Algorithms/Files/notes.txt",
		Fingerprint: "fp", Source: store.SourceFile,
	}))

	startWatcher(t, root, st)

	require.NoError(t, os.WriteFile(path, []byte("edited by hand"), 0o644))

	assert.True(t, waitForStale(t, st, 1, 10), "edit should flag the entry stale")
}

func TestWatcher_FlagsDeletedFile(t *testing.T) {
	root := t.TempDir()
	st := newTestStore(t)
	ctx := context.Background()

	dir := filepath.Join(root, "Algorithms", "Files")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "slides.pdf")
	require.NoError(t, os.WriteFile(path, []byte("pdf"), 0o644))

	require.NoError(t, st.UpsertLocal(ctx, store.LocalEntry{
		CourseID: 1, RemoteID: 11,
		Path:        "Algorithms/Files/slides.pdf",
		Fingerprint: "fp", Source: store.SourceFile,
	}))

	startWatcher(t, root, st)

	require.NoError(t, os.Remove(path))

	assert.True(t, waitForStale(t, st, 1, 11), "delete should flag the entry stale")
}

func TestWatcher_IgnoresStagingFiles(t *testing.T) {
	root := t.TempDir()
	st := newTestStore(t)

	startWatcher(t, root, st)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".staging-12345"), []byte("partial"), 0o644))
	time.Sleep(200 * time.Millisecond)

	entries, err := st.ListLocal(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWatcher_WatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertLocal(ctx, store.LocalEntry{
		CourseID: 2, RemoteID: 20,
		Path:        "Databases/Files/er.md",
		Fingerprint: "fp", Source: store.SourceFile,
	}))

	startWatcher(t, root, st)

	// Directory created after the watch started.
	dir := filepath.Join(root, "Databases", "Files")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "er.md"), []byte("diagram"), 0o644))

	assert.True(t, waitForStale(t, st, 2, 20), "files in new subdirectories are watched")
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	root := t.TempDir()
	st := newTestStore(t)
	w := startWatcher(t, root, st)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
