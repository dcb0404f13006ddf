// Package errors provides structured error handling for canvasai.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Local IO errors (mirror, manifest)
//   - 3XX: Remote LMS errors
//   - 4XX: Search index errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates mirror and manifest I/O errors.
	CategoryIO Category = "IO"
	// CategoryRemote indicates LMS-side errors.
	CategoryRemote Category = "REMOTE"
	// CategoryIndex indicates search-index-service errors.
	CategoryIndex Category = "INDEX"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Local IO errors (200-299)
	ErrCodeFileNotFound    = "ERR_201_FILE_NOT_FOUND"
	ErrCodeStageFailed     = "ERR_202_STAGE_FAILED"
	ErrCodeManifestCorrupt = "ERR_203_MANIFEST_CORRUPT"

	// Remote LMS errors (300-399)
	ErrCodeRemoteTimeout     = "ERR_301_REMOTE_TIMEOUT"
	ErrCodeRemoteUnavailable = "ERR_302_REMOTE_UNAVAILABLE"
	ErrCodeRateLimited       = "ERR_303_RATE_LIMITED"
	ErrCodePermissionDenied  = "ERR_304_PERMISSION_DENIED"
	ErrCodePartialInventory  = "ERR_305_PARTIAL_INVENTORY"
	ErrCodeRemoteNotFound    = "ERR_306_REMOTE_NOT_FOUND"

	// Search index errors (400-499)
	ErrCodeIndexCreateFailed = "ERR_401_INDEX_CREATE_FAILED"
	ErrCodeUploadFailed      = "ERR_402_UPLOAD_FAILED"
	ErrCodeUnsupportedFormat = "ERR_403_UNSUPPORTED_FORMAT"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeAlreadyRunning = "ERR_502_ALREADY_RUNNING"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryRemote
	case '4':
		return CategoryIndex
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeManifestCorrupt:
		return SeverityFatal
	}

	// Retryable remote errors get warning severity: the sync pass continues.
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a transient error.
// Permission denials and unsupported formats are deliberately absent:
// retrying them can never succeed.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRemoteTimeout, ErrCodeRemoteUnavailable, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}
