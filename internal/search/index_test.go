package search

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deyu-Zhang/canvas-ai/internal/inventory"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func doc(path, name string) inventory.RemoteFile {
	return inventory.RemoteFile{CourseID: 1, RemoteID: 1, Name: name, Path: path}
}

func TestIndexAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.IndexContent(doc("C1/Files/graphs.md", "graphs.md"),
		[]byte("Dijkstra shortest path on weighted graphs")))
	require.NoError(t, idx.IndexContent(doc("C1/Files/sorting.md", "sorting.md"),
		[]byte("merge sort and quicksort complexity")))

	results, err := idx.Search(ctx, "dijkstra", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "C1/Files/graphs.md", results[0].Path)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearch_EmptyQuery(t *testing.T) {
	idx := newTestIndex(t)

	results, err := idx.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexContent_StripsHTML(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	body := "<html><body><h1>Assignment</h1><p>Implement a &amp; B-tree</p></body></html>"
	require.NoError(t, idx.IndexContent(doc("C1/Assignments/hw1.html", "hw1.html"), []byte(body)))

	results, err := idx.Search(ctx, "b-tree", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Tag names must not be searchable.
	results, err = idx.Search(ctx, "body", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRemove(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.IndexContent(doc("C1/Files/notes.txt", "notes.txt"), []byte("eventual consistency")))
	require.Equal(t, uint64(1), idx.DocCount())

	require.NoError(t, idx.Remove([]string{"C1/Files/notes.txt"}))

	results, err := idx.Search(ctx, "consistency", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestReindexReplacesDocument(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	rf := doc("C1/Files/syllabus.txt", "syllabus.txt")
	require.NoError(t, idx.IndexContent(rf, []byte("midterm in october")))
	require.NoError(t, idx.IndexContent(rf, []byte("midterm in november")))

	assert.Equal(t, uint64(1), idx.DocCount())

	results, err := idx.Search(ctx, "october", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOpen_RecoversFromCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search.bleve")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	idx, err := Open(path, logger)
	require.NoError(t, err)
	require.NoError(t, idx.IndexContent(doc("C1/Files/a.txt", "a.txt"), []byte("hello")))
	require.NoError(t, idx.Close())

	// Truncate the metadata to simulate a crashed write.
	require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), nil, 0o644))

	idx, err = Open(path, logger)
	require.NoError(t, err, "corrupted index is cleared and recreated")
	defer idx.Close()
	assert.Equal(t, uint64(0), idx.DocCount())
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "a b", StripHTML("<p>a</p>\n<p>b</p>"))
	assert.Equal(t, "x & y", StripHTML("x &amp; y"))
	assert.Equal(t, "", StripHTML("<div></div>"))
}
