// Package tracker maintains the ledger of remote files the current
// token cannot download. Tracked files are excluded from future plans
// until explicitly reset, so a sync run never burns retries on a 403
// that will not go away by itself.
package tracker

import (
	"context"
	"log/slog"
	"time"

	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
	"github.com/Deyu-Zhang/canvas-ai/internal/inventory"
	"github.com/Deyu-Zhang/canvas-ai/internal/store"
)

// Tracker records and queries inaccessible files.
type Tracker struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Tracker backed by the given store.
func New(st store.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: st, logger: logger, now: time.Now}
}

// Record notes a failed download if the failure is a permission
// denial. Transient failures are not tracked: they belong to the retry
// path. Returns true if the file was recorded.
func (t *Tracker) Record(ctx context.Context, file inventory.RemoteFile, cause error) (bool, error) {
	if !syncerrors.IsPermissionDenied(cause) {
		return false, nil
	}

	now := t.now()
	rec := store.InaccessibleRecord{
		CourseID:  file.CourseID,
		RemoteID:  file.RemoteID,
		Name:      file.Name,
		Reason:    cause.Error(),
		FirstSeen: now,
		LastSeen:  now,
	}
	if err := t.store.MarkInaccessible(ctx, rec); err != nil {
		return false, err
	}

	t.logger.Info("file_marked_inaccessible",
		"course_id", file.CourseID,
		"remote_id", file.RemoteID,
		"name", file.Name)
	return true, nil
}

// Excluded returns the set of (course, remote) keys that should be
// skipped when planning.
func (t *Tracker) Excluded(ctx context.Context) (map[Key]store.InaccessibleRecord, error) {
	records, err := t.store.ListInaccessible(ctx)
	if err != nil {
		return nil, err
	}

	excluded := make(map[Key]store.InaccessibleRecord, len(records))
	for _, rec := range records {
		excluded[Key{CourseID: rec.CourseID, RemoteID: rec.RemoteID}] = rec
	}
	return excluded, nil
}

// Key identifies one remote file.
type Key struct {
	CourseID int64
	RemoteID int64
}

// List returns the whole ledger.
func (t *Tracker) List(ctx context.Context) ([]store.InaccessibleRecord, error) {
	return t.store.ListInaccessible(ctx)
}

// ListByCourse returns the ledger entries for one course.
func (t *Tracker) ListByCourse(ctx context.Context, courseID int64) ([]store.InaccessibleRecord, error) {
	return t.store.ListInaccessibleByCourse(ctx, courseID)
}

// Reset clears the ledger for one course (courseID > 0) or for all
// courses (courseID == 0). Returns the number of cleared records.
func (t *Tracker) Reset(ctx context.Context, courseID int64) (int64, error) {
	var (
		n   int64
		err error
	)
	if courseID > 0 {
		n, err = t.store.ResetInaccessible(ctx, courseID)
	} else {
		n, err = t.store.ResetAllInaccessible(ctx)
	}
	if err != nil {
		return 0, err
	}

	t.logger.Info("inaccessible_reset", "course_id", courseID, "cleared", n)
	return n, nil
}
