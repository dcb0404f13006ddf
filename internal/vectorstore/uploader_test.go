package vectorstore

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deyu-Zhang/canvas-ai/internal/canvas"
	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
	"github.com/Deyu-Zhang/canvas-ai/internal/inventory"
	"github.com/Deyu-Zhang/canvas-ai/internal/store"
)

// fakeService records calls and returns deterministic IDs.
type fakeService struct {
	created   []string
	uploads   []string
	attached  [][2]string
	detached  [][2]string
	uploadErr error
	nextFile  int
}

func (f *fakeService) CreateVectorStore(ctx context.Context, name string) (string, error) {
	f.created = append(f.created, name)
	return fmt.Sprintf("vs_%d", len(f.created)), nil
}

func (f *fakeService) UploadFile(ctx context.Context, filename string, content io.Reader) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	_, _ = io.Copy(io.Discard, content)
	f.nextFile++
	f.uploads = append(f.uploads, filename)
	return fmt.Sprintf("file_%d", f.nextFile), nil
}

func (f *fakeService) AttachFile(ctx context.Context, vsID, fileID string) error {
	f.attached = append(f.attached, [2]string{vsID, fileID})
	return nil
}

func (f *fakeService) DetachFile(ctx context.Context, vsID, fileID string) error {
	f.detached = append(f.detached, [2]string{vsID, fileID})
	return nil
}

func newTestUploader(t *testing.T) (*Uploader, *fakeService, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := &fakeService{}
	return NewUploader(svc, st, 0, nil), svc, st
}

func pdf(courseID, remoteID int64, fingerprint string) inventory.RemoteFile {
	return inventory.RemoteFile{
		CourseID:    courseID,
		RemoteID:    remoteID,
		Name:        "notes.pdf",
		Fingerprint: fingerprint,
	}
}

func TestEnsureIndex_Idempotent(t *testing.T) {
	u, svc, _ := newTestUploader(t)
	ctx := context.Background()
	course := canvas.Course{ID: 42, Name: "Algorithms"}

	id1, err := u.EnsureIndex(ctx, course)
	require.NoError(t, err)
	id2, err := u.EnsureIndex(ctx, course)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	// The remote create happened exactly once.
	assert.Len(t, svc.created, 1)
	assert.Contains(t, svc.created[0], "Algorithms")
}

func TestUpload_NewFile(t *testing.T) {
	u, svc, st := newTestUploader(t)
	ctx := context.Background()

	result, err := u.Upload(ctx, "vs_1", pdf(42, 100, "fp-1"), strings.NewReader("content"), 7)
	require.NoError(t, err)
	assert.Equal(t, Uploaded, result)

	assert.Equal(t, []string{"notes.pdf"}, svc.uploads)
	require.Len(t, svc.attached, 1)
	assert.Equal(t, "vs_1", svc.attached[0][0])

	entries, err := st.ListIndexedByCourse(ctx, 42)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fp-1", entries[0].Fingerprint)
	assert.Equal(t, "file_1", entries[0].IndexFileID)
}

func TestUpload_SkipsMatchingFingerprint(t *testing.T) {
	u, svc, _ := newTestUploader(t)
	ctx := context.Background()
	file := pdf(42, 100, "fp-1")

	_, err := u.Upload(ctx, "vs_1", file, strings.NewReader("content"), 7)
	require.NoError(t, err)

	// Second upload with the same fingerprint is a no-op.
	result, err := u.Upload(ctx, "vs_1", file, strings.NewReader("content"), 7)
	require.NoError(t, err)
	assert.Equal(t, Skipped, result)
	assert.Len(t, svc.uploads, 1)
	assert.Empty(t, svc.detached)
}

func TestUpload_ReplacesChangedFingerprint(t *testing.T) {
	u, svc, st := newTestUploader(t)
	ctx := context.Background()

	_, err := u.Upload(ctx, "vs_1", pdf(42, 100, "fp-1"), strings.NewReader("v1"), 2)
	require.NoError(t, err)

	result, err := u.Upload(ctx, "vs_1", pdf(42, 100, "fp-2"), strings.NewReader("v2"), 2)
	require.NoError(t, err)
	assert.Equal(t, Replaced, result)

	// Old index file was detached before the new upload.
	require.Len(t, svc.detached, 1)
	assert.Equal(t, [2]string{"vs_1", "file_1"}, svc.detached[0])

	entries, err := st.ListIndexedByCourse(ctx, 42)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fp-2", entries[0].Fingerprint)
	assert.Equal(t, "file_2", entries[0].IndexFileID)
}

func TestUpload_RejectsUnsupportedFormat(t *testing.T) {
	u, svc, _ := newTestUploader(t)

	file := inventory.RemoteFile{CourseID: 1, RemoteID: 2, Name: "video.mp4", Fingerprint: "fp"}
	_, err := u.Upload(context.Background(), "vs_1", file, strings.NewReader("x"), 1)

	require.Error(t, err)
	assert.True(t, syncerrors.IsUnsupportedFormat(err))
	assert.Empty(t, svc.uploads)
}

func TestUpload_RejectsOversizedFile(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	defer st.Close()

	svc := &fakeService{}
	u := NewUploader(svc, st, 10, nil) // 10 byte cap

	_, err = u.Upload(context.Background(), "vs_1", pdf(1, 2, "fp"), strings.NewReader("x"), 11)
	require.Error(t, err)
	assert.True(t, syncerrors.IsUnsupportedFormat(err))
}

func TestUpload_ServiceFailureLeavesManifestUntouched(t *testing.T) {
	u, svc, st := newTestUploader(t)
	svc.uploadErr = syncerrors.New(syncerrors.ErrCodeRemoteUnavailable, "503", nil)

	_, err := u.Upload(context.Background(), "vs_1", pdf(1, 2, "fp"), strings.NewReader("x"), 1)
	require.Error(t, err)

	entries, err := st.ListIndexed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSupportedFormat(t *testing.T) {
	assert.True(t, SupportedFormat("a.pdf"))
	assert.True(t, SupportedFormat("A.PDF"))
	assert.True(t, SupportedFormat("page.html"))
	assert.False(t, SupportedFormat("clip.mp4"))
	assert.False(t, SupportedFormat("archive.zip"))
	assert.False(t, SupportedFormat("noext"))
}
