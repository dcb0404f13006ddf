// Package sync executes reconciliation plans: it downloads missing and
// changed files into the local mirror, uploads them into the per-course
// remote indexes, and keeps the manifests consistent. At most one run
// is in flight per data directory at a time.
package sync

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Deyu-Zhang/canvas-ai/internal/canvas"
	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
	"github.com/Deyu-Zhang/canvas-ai/internal/inventory"
	"github.com/Deyu-Zhang/canvas-ai/internal/mirror"
	"github.com/Deyu-Zhang/canvas-ai/internal/plan"
	"github.com/Deyu-Zhang/canvas-ai/internal/store"
	"github.com/Deyu-Zhang/canvas-ai/internal/tracker"
	"github.com/Deyu-Zhang/canvas-ai/internal/vectorstore"
)

// InventorySource lists courses and builds the remote inventory.
type InventorySource interface {
	Courses(ctx context.Context, only []int64) ([]canvas.Course, error)
	Fetch(ctx context.Context, courses []canvas.Course) ([]inventory.RemoteFile, error)
}

// ContentSource streams remote file bytes.
type ContentSource interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// IndexTarget manages the per-course remote indexes.
type IndexTarget interface {
	EnsureIndex(ctx context.Context, course canvas.Course) (string, error)
	Upload(ctx context.Context, vectorStoreID string, rf inventory.RemoteFile, content io.Reader, size int64) (vectorstore.UploadResult, error)
}

// TextIndexer receives downloaded text content for local full-text
// search. Optional: a nil indexer disables local indexing.
type TextIndexer interface {
	IndexContent(rf inventory.RemoteFile, content []byte) error
}

// Options tunes a sync run.
type Options struct {
	// Workers bounds concurrent downloads/uploads.
	Workers int
	// Retry is the budget for transient failures.
	Retry syncerrors.RetryConfig
	// Courses restricts syncing to the given IDs (empty = all).
	Courses []int64
	// DataDir holds the cross-process run lock and reports.
	DataDir string
	// ReportHistory is how many report files to keep.
	ReportHistory int
}

// Dependencies wires the orchestrator's collaborators.
type Dependencies struct {
	Inventory InventorySource
	Content   ContentSource
	Store     store.Store
	Mirror    *mirror.Store
	Tracker   *tracker.Tracker
	Index     IndexTarget
	Search    TextIndexer // optional
	Logger    *slog.Logger
}

// Summary is the result of one completed run.
type Summary struct {
	RunID                    string           `json:"run_id"`
	StartedAt                time.Time        `json:"started_at"`
	FinishedAt               time.Time        `json:"finished_at"`
	CoursesTouched           int              `json:"courses_touched"`
	FilesDownloaded          int              `json:"files_downloaded"`
	FilesUploaded            int              `json:"files_uploaded"`
	FilesSkippedInaccessible int              `json:"files_skipped_inaccessible"`
	FilesSkippedUnsupported  int              `json:"files_skipped_unsupported"`
	FilesFailed              int              `json:"files_failed"`
	Failures                 []FileFailure    `json:"failures,omitempty"`
	CoursesFailed            map[int64]string `json:"courses_failed,omitempty"`
}

// FileFailure records one file the run could not sync.
type FileFailure struct {
	CourseID int64  `json:"course_id"`
	RemoteID int64  `json:"remote_id"`
	Path     string `json:"path"`
	Error    string `json:"error"`
}

// Orchestrator drives sync runs and answers status queries.
type Orchestrator struct {
	deps     Dependencies
	opts     Options
	progress *Progress
	logger   *slog.Logger

	mu          gosync.Mutex
	lastSummary *Summary
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Dependencies, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialDelay == 0 {
		opts.Retry = syncerrors.DefaultRetryConfig()
	}
	if opts.ReportHistory <= 0 {
		opts.ReportHistory = 10
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		progress: NewProgress(),
		logger:   logger,
	}
}

// Progress returns the current run snapshot.
func (o *Orchestrator) Progress() Snapshot {
	return o.progress.Snapshot()
}

// LastSummary returns the most recent completed run summary, or nil.
func (o *Orchestrator) LastSummary() *Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSummary
}

// Start launches a run in the background. It returns the run ID
// immediately, or AlreadyRunning if a run is in flight.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	runID := uuid.NewString()
	if !o.progress.begin(runID) {
		return "", syncerrors.AlreadyRunning()
	}

	go func() {
		// The launching request's context ends with the response; the
		// run keeps going until done or the process stops.
		_, _ = o.run(context.WithoutCancel(ctx), runID)
	}()

	return runID, nil
}

// Run executes a sync synchronously. Returns AlreadyRunning if a run
// is in flight.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	if !o.progress.begin(runID) {
		return nil, syncerrors.AlreadyRunning()
	}
	return o.run(ctx, runID)
}

// run owns the state machine from Planning to Completed/Failed. The
// caller must have won progress.begin.
func (o *Orchestrator) run(ctx context.Context, runID string) (summary *Summary, err error) {
	defer func() {
		o.progress.finish(err)
		if summary != nil {
			o.mu.Lock()
			o.lastSummary = summary
			o.mu.Unlock()
		}
	}()

	// Cross-process guard: another canvasai process syncing the same
	// data directory is an AlreadyRunning, not a corruption hazard.
	if o.opts.DataDir != "" {
		lock := flock.New(filepath.Join(o.opts.DataDir, "sync.lock"))
		locked, lockErr := lock.TryLock()
		if lockErr != nil {
			return nil, syncerrors.Wrap(syncerrors.ErrCodeInternal, lockErr)
		}
		if !locked {
			return nil, syncerrors.AlreadyRunning()
		}
		defer func() { _ = lock.Unlock() }()
	}

	summary = &Summary{RunID: runID, StartedAt: time.Now()}
	o.logger.Info("sync_started", "run_id", runID)

	courses, p, partial, err := o.buildPlan(ctx)
	if err != nil {
		o.logger.Error("sync_planning_failed", "run_id", runID, "error", err)
		return nil, err
	}
	if partial != nil {
		summary.CoursesFailed = make(map[int64]string, len(partial.CoursesFailed))
		for id, cerr := range partial.CoursesFailed {
			summary.CoursesFailed[id] = cerr.Error()
		}
	}

	downloads := p.Downloads()
	uploads := p.Uploads()
	o.progress.executing(len(downloads) + len(uploads))
	o.logger.Info("sync_plan_ready",
		"run_id", runID,
		"downloads", len(downloads),
		"uploads", len(uploads),
		"up_to_date", len(p.UpToDate),
		"inaccessible", len(p.Inaccessible))

	courseByID := make(map[int64]canvas.Course, len(courses))
	for _, c := range courses {
		courseByID[c.ID] = c
	}

	exec := &executor{
		o:         o,
		summary:   summary,
		courses:   courseByID,
		indexIDs:  make(map[int64]string),
		indexErrs: make(map[int64]error),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for _, rf := range downloads {
		rf := rf
		g.Go(func() error {
			defer o.progress.taskDone()
			exec.downloadAndIndex(gctx, rf)
			return gctx.Err()
		})
	}
	for _, rf := range uploads {
		rf := rf
		g.Go(func() error {
			defer o.progress.taskDone()
			exec.uploadFromMirror(gctx, rf)
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		// Cooperative cancellation: completed per-file work is kept.
		o.logger.Warn("sync_cancelled", "run_id", runID, "error", err)
		return nil, err
	}

	summary.FinishedAt = time.Now()
	exec.fillCounts(summary)

	if err := o.persistRun(ctx, summary); err != nil {
		o.logger.Warn("sync_report_persist_failed", "run_id", runID, "error", err)
	}

	o.logger.Info("sync_complete",
		"run_id", runID,
		"downloaded", summary.FilesDownloaded,
		"uploaded", summary.FilesUploaded,
		"skipped_inaccessible", summary.FilesSkippedInaccessible,
		"failed", summary.FilesFailed,
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds())
	return summary, nil
}

// buildPlan fetches the inventory and reconciles it against the
// manifests. A partial inventory is usable; a total failure is not.
func (o *Orchestrator) buildPlan(ctx context.Context) ([]canvas.Course, *plan.Plan, *syncerrors.PartialInventoryError, error) {
	courses, err := o.deps.Inventory.Courses(ctx, o.opts.Courses)
	if err != nil {
		return nil, nil, nil, err
	}

	remote, err := o.deps.Inventory.Fetch(ctx, courses)
	var partial *syncerrors.PartialInventoryError
	if err != nil {
		pe, ok := syncerrors.IsPartialInventory(err)
		if !ok || len(remote) == 0 {
			return nil, nil, nil, err
		}
		partial = pe
	}

	local, err := o.deps.Store.ListLocal(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	indexed, err := o.deps.Store.ListIndexed(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	excluded, err := o.deps.Tracker.Excluded(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	inaccessible := make(map[plan.Key]bool, len(excluded))
	for k := range excluded {
		inaccessible[plan.Key{CourseID: k.CourseID, RemoteID: k.RemoteID}] = true
	}

	return courses, plan.Build(remote, local, indexed, inaccessible), partial, nil
}

// BuildPlan recomputes the reconciliation plan without executing it.
// Used by status surfaces.
func (o *Orchestrator) BuildPlan(ctx context.Context) ([]canvas.Course, *plan.Plan, error) {
	courses, p, _, err := o.buildPlan(ctx)
	return courses, p, err
}

// executor carries the per-run mutable execution state.
type executor struct {
	o       *Orchestrator
	summary *Summary

	courses map[int64]canvas.Course

	mu           gosync.Mutex
	indexIDs     map[int64]string
	indexErrs    map[int64]error
	touched      map[int64]bool
	downloaded   int
	uploaded     int
	inaccessible int
	unsupported  int
	failures     []FileFailure
}

// downloadAndIndex downloads one file into the mirror, records the
// manifest entry, and pushes it to the remote index. Within one file
// the upload never precedes the download.
func (e *executor) downloadAndIndex(ctx context.Context, rf inventory.RemoteFile) {
	content, err := e.fetchContent(ctx, rf)
	if err != nil {
		e.handleFileError(ctx, rf, err)
		return
	}

	if _, err := e.o.deps.Mirror.Write(rf.Path, bytes.NewReader(content)); err != nil {
		e.handleFileError(ctx, rf, err)
		return
	}

	if err := e.o.deps.Store.UpsertLocal(ctx, store.LocalEntry{
		CourseID:     rf.CourseID,
		RemoteID:     rf.RemoteID,
		Path:         rf.Path,
		Size:         int64(len(content)),
		Fingerprint:  rf.Fingerprint,
		Source:       rf.Source,
		DownloadedAt: time.Now(),
	}); err != nil {
		e.handleFileError(ctx, rf, err)
		return
	}

	e.markDownloaded(rf.CourseID)
	e.o.logger.Debug("file_downloaded", "course_id", rf.CourseID, "remote_id", rf.RemoteID, "path", rf.Path)

	if e.o.deps.Search != nil && isTextContent(rf) {
		if err := e.o.deps.Search.IndexContent(rf, content); err != nil {
			e.o.logger.Warn("local_index_failed", "path", rf.Path, "error", err)
		}
	}

	e.uploadContent(ctx, rf, bytes.NewReader(content), int64(len(content)))
}

// uploadFromMirror pushes an already-mirrored file to the remote index.
func (e *executor) uploadFromMirror(ctx context.Context, rf inventory.RemoteFile) {
	f, err := e.o.deps.Mirror.Open(rf.Path)
	if err != nil {
		e.handleFileError(ctx, rf, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		e.handleFileError(ctx, rf, err)
		return
	}

	e.uploadContent(ctx, rf, f, info.Size())
}

// uploadContent sends content to the course index, ensuring the index
// exists first.
func (e *executor) uploadContent(ctx context.Context, rf inventory.RemoteFile, content io.ReadSeeker, size int64) {
	if !vectorstore.SupportedFormat(rf.Name) {
		e.markUnsupported(rf.CourseID)
		e.o.logger.Debug("file_format_unsupported", "path", rf.Path)
		return
	}

	indexID, err := e.ensureIndex(ctx, rf.CourseID)
	if err != nil {
		e.handleFileError(ctx, rf, err)
		return
	}

	err = syncerrors.Retry(ctx, e.o.opts.Retry, func() error {
		if _, err := content.Seek(0, io.SeekStart); err != nil {
			return syncerrors.Wrap(syncerrors.ErrCodeInternal, err)
		}
		_, err := e.o.deps.Index.Upload(ctx, indexID, rf, content, size)
		return err
	})
	if err != nil {
		if syncerrors.IsUnsupportedFormat(err) {
			e.markUnsupported(rf.CourseID)
			return
		}
		e.handleFileError(ctx, rf, err)
		return
	}

	e.markUploaded(rf.CourseID)
}

// fetchContent resolves a file's bytes: HTML exports carry their body
// inline, real files are downloaded with the transient-retry budget.
func (e *executor) fetchContent(ctx context.Context, rf inventory.RemoteFile) ([]byte, error) {
	if rf.URL == "" {
		return []byte(rf.HTML), nil
	}

	return syncerrors.RetryWithResult(ctx, e.o.opts.Retry, func() ([]byte, error) {
		rc, err := e.o.deps.Content.Download(ctx, rf.URL)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	})
}

// ensureIndex resolves the course's vector store ID once per run.
func (e *executor) ensureIndex(ctx context.Context, courseID int64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id, ok := e.indexIDs[courseID]; ok {
		return id, nil
	}
	if err, ok := e.indexErrs[courseID]; ok {
		return "", err
	}

	course, ok := e.courses[courseID]
	if !ok {
		course = canvas.Course{ID: courseID}
	}

	id, err := e.o.deps.Index.EnsureIndex(ctx, course)
	if err != nil {
		e.indexErrs[courseID] = err
		return "", err
	}
	e.indexIDs[courseID] = id
	return id, nil
}

// handleFileError routes a per-file failure: permission denials go to
// the tracker, everything else into the run's failure list. No file
// failure aborts the run.
func (e *executor) handleFileError(ctx context.Context, rf inventory.RemoteFile, err error) {
	if syncerrors.IsPermissionDenied(err) {
		if _, terr := e.o.deps.Tracker.Record(ctx, rf, err); terr != nil {
			e.o.logger.Warn("inaccessible_record_failed", "path", rf.Path, "error", terr)
		}
		e.markInaccessible(rf.CourseID)
		return
	}

	e.o.logger.Warn("file_sync_failed",
		"course_id", rf.CourseID,
		"remote_id", rf.RemoteID,
		"path", rf.Path,
		"error", err)
	e.markFailed(rf, err)
}

func (e *executor) markDownloaded(courseID int64) {
	e.mu.Lock()
	e.downloaded++
	e.touch(courseID)
	e.mu.Unlock()
	e.o.progress.addDownloaded()
}

func (e *executor) markUploaded(courseID int64) {
	e.mu.Lock()
	e.uploaded++
	e.touch(courseID)
	e.mu.Unlock()
	e.o.progress.addUploaded()
}

func (e *executor) markInaccessible(courseID int64) {
	e.mu.Lock()
	e.inaccessible++
	e.touch(courseID)
	e.mu.Unlock()
	e.o.progress.addSkippedInaccessible()
}

func (e *executor) markUnsupported(courseID int64) {
	e.mu.Lock()
	e.unsupported++
	e.touch(courseID)
	e.mu.Unlock()
	e.o.progress.addSkippedUnsupported()
}

func (e *executor) markFailed(rf inventory.RemoteFile, err error) {
	e.mu.Lock()
	e.failures = append(e.failures, FileFailure{
		CourseID: rf.CourseID,
		RemoteID: rf.RemoteID,
		Path:     rf.Path,
		Error:    err.Error(),
	})
	e.mu.Unlock()
	e.o.progress.addFailed(err)
}

// touch must be called with e.mu held.
func (e *executor) touch(courseID int64) {
	if e.touched == nil {
		e.touched = make(map[int64]bool)
	}
	e.touched[courseID] = true
}

func (e *executor) fillCounts(s *Summary) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s.FilesDownloaded = e.downloaded
	s.FilesUploaded = e.uploaded
	s.FilesSkippedInaccessible = e.inaccessible
	s.FilesSkippedUnsupported = e.unsupported
	s.FilesFailed = len(e.failures)
	s.Failures = e.failures
	s.CoursesTouched = len(e.touched)
}

// isTextContent reports whether the content is worth feeding into the
// local full-text index.
func isTextContent(rf inventory.RemoteFile) bool {
	switch filepath.Ext(rf.Path) {
	case ".html", ".txt", ".md", ".csv", ".json":
		return true
	}
	return false
}

// persistRun records the run in durable state and writes the report.
func (o *Orchestrator) persistRun(ctx context.Context, s *Summary) error {
	if err := o.deps.Store.SetState(ctx, store.StateLastSyncAt, s.FinishedAt.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := o.deps.Store.SetState(ctx, store.StateLastRunID, s.RunID); err != nil {
		return err
	}

	if o.opts.DataDir == "" {
		return nil
	}
	return writeReport(filepath.Join(o.opts.DataDir, "reports"), s, o.opts.ReportHistory)
}

// HasLocalIndex reports whether the local full-text index exists at
// the given path.
func HasLocalIndex(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
