// Package store persists the sync engine's durable state: the local
// mirror manifest, the remote index manifest, the inaccessible-file
// ledger and the course -> vector store mapping.
package store

import (
	"context"
	"time"
)

// Source identifies where a synced artifact came from.
type Source string

const (
	SourceFile       Source = "file"
	SourcePage       Source = "page"
	SourceAssignment Source = "assignment"
)

// LocalEntry records one file present in the local mirror.
type LocalEntry struct {
	CourseID     int64     `json:"course_id"`
	RemoteID     int64     `json:"remote_id"`
	Path         string    `json:"path"` // relative to the mirror root
	Size         int64     `json:"size"`
	Fingerprint  string    `json:"fingerprint"`
	Source       Source    `json:"source"`
	DownloadedAt time.Time `json:"downloaded_at"`
	// Stale marks entries whose on-disk bytes drifted from the manifest
	// (set by the mirror watcher, cleared on re-download).
	Stale bool `json:"stale,omitempty"`
}

// IndexedEntry records one file uploaded to a course's remote index.
type IndexedEntry struct {
	CourseID    int64     `json:"course_id"`
	RemoteID    int64     `json:"remote_id"`
	Filename    string    `json:"filename"`
	Fingerprint string    `json:"fingerprint"`
	IndexFileID string    `json:"index_file_id"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// InaccessibleRecord tracks a remote file the token cannot download.
type InaccessibleRecord struct {
	CourseID  int64     `json:"course_id"`
	RemoteID  int64     `json:"remote_id"`
	Name      string    `json:"name"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// VectorStoreRecord maps a course to its remote semantic index.
type VectorStoreRecord struct {
	CourseID      int64     `json:"course_id"`
	CourseName    string    `json:"course_name"`
	VectorStoreID string    `json:"vector_store_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is the manifest persistence interface.
type Store interface {
	// Local mirror manifest
	UpsertLocal(ctx context.Context, entry LocalEntry) error
	ListLocal(ctx context.Context) ([]LocalEntry, error)
	ListLocalByCourse(ctx context.Context, courseID int64) ([]LocalEntry, error)
	DeleteLocal(ctx context.Context, courseID, remoteID int64) error
	// MarkStaleByPath flags the entry with the given mirror-relative
	// path. Returns false if no entry matched.
	MarkStaleByPath(ctx context.Context, path string) (bool, error)

	// Remote index manifest
	UpsertIndexed(ctx context.Context, entry IndexedEntry) error
	ListIndexed(ctx context.Context) ([]IndexedEntry, error)
	ListIndexedByCourse(ctx context.Context, courseID int64) ([]IndexedEntry, error)
	DeleteIndexed(ctx context.Context, courseID, remoteID int64) error

	// Inaccessible ledger
	MarkInaccessible(ctx context.Context, rec InaccessibleRecord) error
	ListInaccessible(ctx context.Context) ([]InaccessibleRecord, error)
	ListInaccessibleByCourse(ctx context.Context, courseID int64) ([]InaccessibleRecord, error)
	ResetInaccessible(ctx context.Context, courseID int64) (int64, error)
	ResetAllInaccessible(ctx context.Context) (int64, error)

	// Vector store mapping
	SetVectorStore(ctx context.Context, rec VectorStoreRecord) error
	GetVectorStore(ctx context.Context, courseID int64) (*VectorStoreRecord, error)
	ListVectorStores(ctx context.Context) ([]VectorStoreRecord, error)

	// Engine state (last sync time, last run id, ...)
	SetState(ctx context.Context, key, value string) error
	GetState(ctx context.Context, key string) (string, error)

	Close() error
}

// Well-known state keys.
const (
	StateLastSyncAt  = "last_sync_at"
	StateLastRunID   = "last_run_id"
	StateLastSummary = "last_summary"
)
