package errors

import (
	"errors"
	"fmt"
)

// SyncError is the structured error type for canvasai.
// It provides rich context for error handling, logging, and user presentation.
type SyncError struct {
	// Code is the unique error code (e.g., "ERR_304_PERMISSION_DENIED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Remote, Index, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with SyncError.
func (e *SyncError) Is(target error) bool {
	if t, ok := target.(*SyncError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *SyncError) WithDetail(key, value string) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new SyncError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SyncError {
	return &SyncError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SyncError from an existing error.
// The error's message becomes the SyncError message.
func Wrap(code string, err error) *SyncError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// PermissionDenied creates a permission error for a remote file.
// Permission errors are never retried; the orchestrator routes them to
// the inaccessibility tracker.
func PermissionDenied(message string, cause error) *SyncError {
	return New(ErrCodePermissionDenied, message, cause)
}

// RemoteUnavailable creates an error for a wholly unreachable LMS.
func RemoteUnavailable(message string, cause error) *SyncError {
	return New(ErrCodeRemoteUnavailable, message, cause)
}

// UnsupportedFormat creates an error for content the index cannot ingest.
func UnsupportedFormat(message string) *SyncError {
	return New(ErrCodeUnsupportedFormat, message, nil)
}

// AlreadyRunning creates the rejection error for overlapping sync requests.
func AlreadyRunning() *SyncError {
	return New(ErrCodeAlreadyRunning, "a sync run is already in progress", nil)
}

// PartialInventoryError reports that inventory fetch succeeded for some
// courses but not others. Callers may proceed with the partial result.
type PartialInventoryError struct {
	// CoursesFailed maps course ID to the failure for that course.
	CoursesFailed map[int64]error
}

// Error implements the error interface.
func (e *PartialInventoryError) Error() string {
	return fmt.Sprintf("[%s] inventory incomplete: %d course(s) failed",
		ErrCodePartialInventory, len(e.CoursesFailed))
}

// IsPartialInventory reports whether err is a partial inventory failure,
// returning the typed error when it is.
func IsPartialInventory(err error) (*PartialInventoryError, bool) {
	var pe *PartialInventoryError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable checks if an error is transient and worth retrying.
// Returns true only for SyncErrors with the Retryable flag set; plain
// errors are treated as non-retryable so that unclassified failures
// surface instead of looping.
func IsRetryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsPermissionDenied checks if an error is a permission denial.
func IsPermissionDenied(err error) bool {
	return hasCode(err, ErrCodePermissionDenied)
}

// IsUnsupportedFormat checks if an error is an unsupported-format rejection.
func IsUnsupportedFormat(err error) bool {
	return hasCode(err, ErrCodeUnsupportedFormat)
}

// IsNotFound checks if an error is a local or remote not-found.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeFileNotFound) || hasCode(err, ErrCodeRemoteNotFound)
}

// IsAlreadyRunning checks if an error is the overlapping-sync rejection.
func IsAlreadyRunning(err error) bool {
	return hasCode(err, ErrCodeAlreadyRunning)
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a SyncError.
// Returns empty string if not a SyncError.
func GetCode(err error) string {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func hasCode(err error, code string) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
