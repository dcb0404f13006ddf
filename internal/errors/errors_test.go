package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesMetadataFromCode(t *testing.T) {
	tests := []struct {
		name          string
		code          string
		wantCategory  Category
		wantRetryable bool
	}{
		{
			name:          "config error",
			code:          ErrCodeConfigInvalid,
			wantCategory:  CategoryConfig,
			wantRetryable: false,
		},
		{
			name:          "local io error",
			code:          ErrCodeStageFailed,
			wantCategory:  CategoryIO,
			wantRetryable: false,
		},
		{
			name:          "remote timeout is retryable",
			code:          ErrCodeRemoteTimeout,
			wantCategory:  CategoryRemote,
			wantRetryable: true,
		},
		{
			name:          "rate limited is retryable",
			code:          ErrCodeRateLimited,
			wantCategory:  CategoryRemote,
			wantRetryable: true,
		},
		{
			name:          "permission denied is not retryable",
			code:          ErrCodePermissionDenied,
			wantCategory:  CategoryRemote,
			wantRetryable: false,
		},
		{
			name:          "unsupported format is not retryable",
			code:          ErrCodeUnsupportedFormat,
			wantCategory:  CategoryIndex,
			wantRetryable: false,
		},
		{
			name:          "internal error",
			code:          ErrCodeInternal,
			wantCategory:  CategoryInternal,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)

			assert.Equal(t, tt.wantCategory, err.Category)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestSyncError_Is(t *testing.T) {
	// Given: two errors with the same code
	a := New(ErrCodePermissionDenied, "file 1", nil)
	b := New(ErrCodePermissionDenied, "file 2", nil)
	c := New(ErrCodeRemoteTimeout, "timeout", nil)

	// Then: errors.Is matches by code, not message
	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestSyncError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(ErrCodeRemoteUnavailable, cause)

	require.NotNil(t, err)
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, cause))
}

func TestWrap_NilError(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIsRetryable_WrappedInPlainError(t *testing.T) {
	// Given: a retryable error wrapped with fmt.Errorf
	inner := New(ErrCodeRemoteTimeout, "timeout", nil)
	wrapped := fmt.Errorf("download course 42: %w", inner)

	// Then: classification survives wrapping
	assert.True(t, IsRetryable(wrapped))
}

func TestIsRetryable_PlainError(t *testing.T) {
	// Unclassified errors are treated as permanent.
	assert.False(t, IsRetryable(stderrors.New("something broke")))
	assert.False(t, IsRetryable(nil))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsPermissionDenied(PermissionDenied("no access", nil)))
	assert.False(t, IsPermissionDenied(New(ErrCodeRemoteTimeout, "x", nil)))

	assert.True(t, IsUnsupportedFormat(UnsupportedFormat(".exe not indexable")))
	assert.True(t, IsAlreadyRunning(AlreadyRunning()))
	assert.True(t, IsNotFound(New(ErrCodeFileNotFound, "missing", nil)))
	assert.True(t, IsNotFound(New(ErrCodeRemoteNotFound, "missing", nil)))
	assert.True(t, IsFatal(New(ErrCodeManifestCorrupt, "bad db", nil)))
	assert.False(t, IsFatal(New(ErrCodeRemoteTimeout, "slow", nil)))
}

func TestPartialInventoryError(t *testing.T) {
	// Given: a partial inventory failure wrapped in another error
	pe := &PartialInventoryError{
		CoursesFailed: map[int64]error{
			42: stderrors.New("403"),
			77: stderrors.New("500"),
		},
	}
	wrapped := fmt.Errorf("fetch: %w", pe)

	// Then: it is detectable and carries the failed courses
	got, ok := IsPartialInventory(wrapped)
	require.True(t, ok)
	assert.Len(t, got.CoursesFailed, 2)
	assert.Contains(t, pe.Error(), "2 course(s) failed")

	_, ok = IsPartialInventory(stderrors.New("other"))
	assert.False(t, ok)
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeUploadFailed, GetCode(New(ErrCodeUploadFailed, "x", nil)))
	assert.Equal(t, "", GetCode(stderrors.New("plain")))
}

func TestFormatForCLI(t *testing.T) {
	err := New(ErrCodePermissionDenied, "download denied", stderrors.New("403 Forbidden")).
		WithDetail("course_id", "42")

	// Without debug: one line with code
	plain := FormatForCLI(err, false)
	assert.Contains(t, plain, "download denied")
	assert.Contains(t, plain, ErrCodePermissionDenied)
	assert.NotContains(t, plain, "403 Forbidden")

	// With debug: details and cause included
	verbose := FormatForCLI(err, true)
	assert.Contains(t, verbose, "course_id: 42")
	assert.Contains(t, verbose, "403 Forbidden")
}
