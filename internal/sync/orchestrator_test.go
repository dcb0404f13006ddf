package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deyu-Zhang/canvas-ai/internal/canvas"
	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
	"github.com/Deyu-Zhang/canvas-ai/internal/inventory"
	"github.com/Deyu-Zhang/canvas-ai/internal/mirror"
	"github.com/Deyu-Zhang/canvas-ai/internal/store"
	"github.com/Deyu-Zhang/canvas-ai/internal/tracker"
	"github.com/Deyu-Zhang/canvas-ai/internal/vectorstore"
)

type fakeInventory struct {
	courses []canvas.Course
	files   []inventory.RemoteFile
	err     error
}

func (f *fakeInventory) Courses(ctx context.Context, only []int64) ([]canvas.Course, error) {
	return f.courses, nil
}

func (f *fakeInventory) Fetch(ctx context.Context, courses []canvas.Course) ([]inventory.RemoteFile, error) {
	return f.files, f.err
}

type fakeContent struct {
	mu       gosync.Mutex
	bodies   map[string]string
	errs     map[string]error
	failOnce map[string]error
	calls    map[string]int
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		bodies:   make(map[string]string),
		errs:     make(map[string]error),
		failOnce: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeContent) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[url]++
	if err, ok := f.failOnce[url]; ok {
		delete(f.failOnce, url)
		return nil, err
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(f.bodies[url])), nil
}

// fakeIndex stands in for the remote index service but keeps the index
// manifest honest, the way the real uploader does.
type fakeIndex struct {
	mu      gosync.Mutex
	st      store.Store
	uploads []string
	ensured map[int64]int
	err     error
}

func newFakeIndex(st store.Store) *fakeIndex {
	return &fakeIndex{st: st, ensured: make(map[int64]int)}
}

func (f *fakeIndex) EnsureIndex(ctx context.Context, course canvas.Course) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured[course.ID]++
	return fmt.Sprintf("vs_%d", course.ID), nil
}

func (f *fakeIndex) Upload(ctx context.Context, vectorStoreID string, rf inventory.RemoteFile, content io.Reader, size int64) (vectorstore.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, rf.Path)
	err := f.st.UpsertIndexed(ctx, store.IndexedEntry{
		CourseID:    rf.CourseID,
		RemoteID:    rf.RemoteID,
		Filename:    rf.Name,
		Fingerprint: rf.Fingerprint,
		IndexFileID: "file_" + rf.Name,
		UploadedAt:  time.Now(),
	})
	return vectorstore.Uploaded, err
}

type harness struct {
	orch    *Orchestrator
	inv     *fakeInventory
	content *fakeContent
	index   *fakeIndex
	store   store.Store
	mirror  *mirror.Store
	dataDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dataDir := t.TempDir()

	st, err := store.NewSQLiteStore(filepath.Join(dataDir, "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m, err := mirror.NewStore(filepath.Join(dataDir, "mirror"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inv := &fakeInventory{courses: []canvas.Course{{ID: 1, Name: "Algorithms"}}}
	content := newFakeContent()
	index := newFakeIndex(st)

	orch := NewOrchestrator(Dependencies{
		Inventory: inv,
		Content:   content,
		Store:     st,
		Mirror:    m,
		Tracker:   tracker.New(st, logger),
		Index:     index,
		Logger:    logger,
	}, Options{
		Workers: 2,
		Retry: syncerrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
		DataDir:       dataDir,
		ReportHistory: 2,
	})

	return &harness{orch: orch, inv: inv, content: content, index: index, store: st, mirror: m, dataDir: dataDir}
}

func pdfFile(id int64, name string) inventory.RemoteFile {
	return inventory.RemoteFile{
		CourseID:    1,
		RemoteID:    id,
		Name:        name,
		Path:        "Algorithms/Files/" + name,
		Size:        42,
		Fingerprint: fmt.Sprintf("fp-%d", id),
		URL:         fmt.Sprintf("https://canvas.test/files/%d/download", id),
		Source:      store.SourceFile,
	}
}

func TestRun_DownloadsAndUploads(t *testing.T) {
	h := newHarness(t)
	lecture := pdfFile(10, "lecture.pdf")
	syllabus := inventory.RemoteFile{
		CourseID:    1,
		RemoteID:    20,
		Name:        "syllabus.html",
		Path:        "Algorithms/Assignments/syllabus.html",
		Fingerprint: "fp-20",
		Source:      store.SourceAssignment,
		HTML:        "<h1>Syllabus</h1>",
	}
	h.inv.files = []inventory.RemoteFile{lecture, syllabus}
	h.content.bodies[lecture.URL] = "pdf-bytes"

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.FilesDownloaded)
	assert.Equal(t, 2, summary.FilesUploaded)
	assert.Equal(t, 0, summary.FilesFailed)
	assert.Equal(t, 1, summary.CoursesTouched)

	data, err := os.ReadFile(h.mirror.Abs(lecture.Path))
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(data))

	data, err = os.ReadFile(h.mirror.Abs(syllabus.Path))
	require.NoError(t, err)
	assert.Equal(t, "<h1>Syllabus</h1>", string(data))

	local, err := h.store.ListLocal(context.Background())
	require.NoError(t, err)
	assert.Len(t, local, 2)

	indexed, err := h.store.ListIndexed(context.Background())
	require.NoError(t, err)
	assert.Len(t, indexed, 2)

	assert.Equal(t, 1, h.index.ensured[1], "course index resolved once per run")

	snap := h.orch.Progress()
	assert.Equal(t, string(StateCompleted), snap.State)
	assert.Equal(t, snap.TotalTasks, snap.CompletedTasks)
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	h := newHarness(t)
	lecture := pdfFile(10, "lecture.pdf")
	h.inv.files = []inventory.RemoteFile{lecture}
	h.content.bodies[lecture.URL] = "pdf-bytes"

	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.FilesDownloaded)
	assert.Equal(t, 0, summary.FilesUploaded)
	assert.Equal(t, 1, h.content.calls[lecture.URL], "content fetched only on the first run")
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.orch.progress.begin("held"))

	_, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.True(t, syncerrors.IsAlreadyRunning(err))
}

func TestRun_PermissionDeniedGoesToTracker(t *testing.T) {
	h := newHarness(t)
	locked := pdfFile(10, "locked.pdf")
	open := pdfFile(11, "open.pdf")
	h.inv.files = []inventory.RemoteFile{locked, open}
	h.content.errs[locked.URL] = syncerrors.PermissionDenied("download forbidden", nil)
	h.content.bodies[open.URL] = "ok"

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FilesDownloaded)
	assert.Equal(t, 1, summary.FilesSkippedInaccessible)
	assert.Equal(t, 0, summary.FilesFailed)
	assert.Equal(t, 1, h.content.calls[locked.URL], "permission denials are not retried")

	recs, err := h.store.ListInaccessible(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(10), recs[0].RemoteID)

	// The next run plans around the tracked file instead of retrying it.
	summary, err = h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.FilesSkippedInaccessible)
	assert.Equal(t, 1, h.content.calls[locked.URL])
}

func TestRun_TransientFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	flaky := pdfFile(10, "flaky.pdf")
	h.inv.files = []inventory.RemoteFile{flaky}
	h.content.failOnce[flaky.URL] = syncerrors.RemoteUnavailable("gateway hiccup", nil)
	h.content.bodies[flaky.URL] = "recovered"

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FilesDownloaded)
	assert.Equal(t, 0, summary.FilesFailed)
	assert.Equal(t, 2, h.content.calls[flaky.URL])
}

func TestRun_ExhaustedRetriesRecordFailure(t *testing.T) {
	h := newHarness(t)
	broken := pdfFile(10, "broken.pdf")
	h.inv.files = []inventory.RemoteFile{broken}
	h.content.errs[broken.URL] = syncerrors.RemoteUnavailable("still down", nil)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err, "file failures do not fail the run")

	assert.Equal(t, 0, summary.FilesDownloaded)
	assert.Equal(t, 1, summary.FilesFailed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, broken.Path, summary.Failures[0].Path)
	assert.Equal(t, 3, h.content.calls[broken.URL], "initial attempt plus two retries")
}

func TestRun_UnsupportedFormatSkipsUpload(t *testing.T) {
	h := newHarness(t)
	archive := pdfFile(10, "dataset.zip")
	h.inv.files = []inventory.RemoteFile{archive}
	h.content.bodies[archive.URL] = "zip-bytes"

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FilesDownloaded)
	assert.Equal(t, 0, summary.FilesUploaded)
	assert.Equal(t, 1, summary.FilesSkippedUnsupported)

	// Mirrored anyway; only the index upload is skipped.
	_, err = os.Stat(h.mirror.Abs(archive.Path))
	assert.NoError(t, err)

	indexed, err := h.store.ListIndexed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, indexed)
}

func TestRun_ChangedFileIsRedownloadedThenReuploaded(t *testing.T) {
	h := newHarness(t)
	lecture := pdfFile(10, "lecture.pdf")
	h.inv.files = []inventory.RemoteFile{lecture}
	h.content.bodies[lecture.URL] = "v2-bytes"

	ctx := context.Background()
	require.NoError(t, h.store.UpsertLocal(ctx, store.LocalEntry{
		CourseID: 1, RemoteID: 10, Path: lecture.Path,
		Fingerprint: "old-fp", Source: store.SourceFile,
	}))
	require.NoError(t, h.store.UpsertIndexed(ctx, store.IndexedEntry{
		CourseID: 1, RemoteID: 10, Filename: lecture.Name,
		Fingerprint: "old-fp", IndexFileID: "file_old",
	}))

	summary, err := h.orch.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FilesDownloaded)
	assert.Equal(t, 1, summary.FilesUploaded)

	local, err := h.store.ListLocal(ctx)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, lecture.Fingerprint, local[0].Fingerprint)
}

func TestRun_UploadOnlyReadsFromMirror(t *testing.T) {
	h := newHarness(t)
	lecture := pdfFile(10, "lecture.pdf")
	h.inv.files = []inventory.RemoteFile{lecture}

	ctx := context.Background()
	_, err := h.mirror.WriteBytes(lecture.Path, []byte("mirrored"))
	require.NoError(t, err)
	require.NoError(t, h.store.UpsertLocal(ctx, store.LocalEntry{
		CourseID: 1, RemoteID: 10, Path: lecture.Path,
		Fingerprint: lecture.Fingerprint, Source: store.SourceFile,
	}))

	summary, err := h.orch.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.FilesDownloaded)
	assert.Equal(t, 1, summary.FilesUploaded)
	assert.Empty(t, h.content.calls, "no download for an already-mirrored file")
	assert.Equal(t, []string{lecture.Path}, h.index.uploads)
}

func TestRun_WritesReportAndState(t *testing.T) {
	h := newHarness(t)
	lecture := pdfFile(10, "lecture.pdf")
	h.inv.files = []inventory.RemoteFile{lecture}
	h.content.bodies[lecture.URL] = "pdf-bytes"

	ctx := context.Background()
	summary, err := h.orch.Run(ctx)
	require.NoError(t, err)

	reports, err := ListReports(filepath.Join(h.dataDir, "reports"))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	loaded, err := LoadReport(reports[0])
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, loaded.RunID)
	assert.Equal(t, 1, loaded.FilesDownloaded)

	runID, err := h.store.GetState(ctx, store.StateLastRunID)
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, runID)

	lastSync, err := h.store.GetState(ctx, store.StateLastSyncAt)
	require.NoError(t, err)
	assert.NotEmpty(t, lastSync)
}

func TestRun_ReportHistoryPruned(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 4; i++ {
		_, err := h.orch.Run(context.Background())
		require.NoError(t, err)
	}

	reports, err := ListReports(filepath.Join(h.dataDir, "reports"))
	require.NoError(t, err)
	assert.Len(t, reports, 2, "history pruned to the configured limit")
}

func TestBuildPlan_PartialInventoryStillPlans(t *testing.T) {
	h := newHarness(t)
	h.inv.courses = []canvas.Course{{ID: 1, Name: "Algorithms"}, {ID: 2, Name: "Databases"}}
	lecture := pdfFile(10, "lecture.pdf")
	h.inv.files = []inventory.RemoteFile{lecture}
	h.inv.err = &syncerrors.PartialInventoryError{
		CoursesFailed: map[int64]error{2: syncerrors.RemoteUnavailable("course 2 down", nil)},
	}
	h.content.bodies[lecture.URL] = "pdf-bytes"

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FilesDownloaded)
	require.Contains(t, summary.CoursesFailed, int64(2))
}
