package vectorstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Deyu-Zhang/canvas-ai/internal/canvas"
	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
	"github.com/Deyu-Zhang/canvas-ai/internal/inventory"
	"github.com/Deyu-Zhang/canvas-ai/internal/store"
)

// DefaultMaxFileSize is the provider's upload ceiling.
const DefaultMaxFileSize = int64(512) << 20 // 512 MB

// UploadResult describes the outcome of one Upload call.
type UploadResult string

const (
	// Uploaded means the file was sent to the index.
	Uploaded UploadResult = "uploaded"
	// Skipped means the manifest already holds this fingerprint.
	Skipped UploadResult = "skipped"
	// Replaced means a prior version was detached before uploading.
	Replaced UploadResult = "replaced"
)

// Uploader pushes mirrored files into per-course remote indexes,
// skipping work the manifest proves is already done.
type Uploader struct {
	svc      Service
	store    store.Store
	maxBytes int64
	logger   *slog.Logger
	now      func() time.Time
}

// NewUploader creates an Uploader. maxBytes <= 0 uses DefaultMaxFileSize.
func NewUploader(svc Service, st store.Store, maxBytes int64, logger *slog.Logger) *Uploader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		svc:      svc,
		store:    st,
		maxBytes: maxBytes,
		logger:   logger,
		now:      time.Now,
	}
}

// EnsureIndex returns the vector store ID for a course, creating the
// remote index and recording the mapping on first use. Safe to call
// repeatedly.
func (u *Uploader) EnsureIndex(ctx context.Context, course canvas.Course) (string, error) {
	if rec, err := u.store.GetVectorStore(ctx, course.ID); err != nil {
		return "", err
	} else if rec != nil {
		return rec.VectorStoreID, nil
	}

	name := fmt.Sprintf("canvasai: %s", course.Name)
	id, err := u.svc.CreateVectorStore(ctx, name)
	if err != nil {
		return "", err
	}

	if err := u.store.SetVectorStore(ctx, store.VectorStoreRecord{
		CourseID:      course.ID,
		CourseName:    course.Name,
		VectorStoreID: id,
		CreatedAt:     u.now(),
	}); err != nil {
		return "", err
	}

	u.logger.Info("index_created",
		"course_id", course.ID,
		"course", course.Name,
		"vector_store_id", id)
	return id, nil
}

// Upload sends one mirrored file into a course's index. Idempotent by
// (remote_id, fingerprint): a matching manifest entry short-circuits to
// Skipped, and a stale entry has its old index file detached first.
func (u *Uploader) Upload(ctx context.Context, vectorStoreID string, rf inventory.RemoteFile, content io.Reader, size int64) (UploadResult, error) {
	if !SupportedFormat(rf.Name) {
		return "", syncerrors.UnsupportedFormat(
			fmt.Sprintf("%s: format not supported by the index service", rf.Name))
	}
	if size > u.maxBytes {
		return "", syncerrors.UnsupportedFormat(
			fmt.Sprintf("%s: %d bytes exceeds the %d byte upload limit", rf.Name, size, u.maxBytes))
	}

	existing, err := u.findIndexed(ctx, rf)
	if err != nil {
		return "", err
	}

	result := Uploaded
	if existing != nil {
		if existing.Fingerprint == rf.Fingerprint {
			u.logger.Debug("index_upload_skipped",
				"course_id", rf.CourseID, "remote_id", rf.RemoteID, "name", rf.Name)
			return Skipped, nil
		}

		// Stale version in the index: detach before re-uploading so the
		// index never holds two generations of one file.
		if existing.IndexFileID != "" {
			if err := u.svc.DetachFile(ctx, vectorStoreID, existing.IndexFileID); err != nil {
				return "", err
			}
		}
		result = Replaced
	}

	fileID, err := u.svc.UploadFile(ctx, rf.Name, content)
	if err != nil {
		return "", err
	}
	if err := u.svc.AttachFile(ctx, vectorStoreID, fileID); err != nil {
		return "", err
	}

	if err := u.store.UpsertIndexed(ctx, store.IndexedEntry{
		CourseID:    rf.CourseID,
		RemoteID:    rf.RemoteID,
		Filename:    rf.Name,
		Fingerprint: rf.Fingerprint,
		IndexFileID: fileID,
		UploadedAt:  u.now(),
	}); err != nil {
		return "", err
	}

	u.logger.Info("index_upload_complete",
		"course_id", rf.CourseID,
		"remote_id", rf.RemoteID,
		"name", rf.Name,
		"index_file_id", fileID,
		"result", string(result))
	return result, nil
}

// findIndexed returns the manifest entry for a file, or nil.
func (u *Uploader) findIndexed(ctx context.Context, rf inventory.RemoteFile) (*store.IndexedEntry, error) {
	entries, err := u.store.ListIndexedByCourse(ctx, rf.CourseID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].RemoteID == rf.RemoteID {
			return &entries[i], nil
		}
	}
	return nil, nil
}
