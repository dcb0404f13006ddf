package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
)

// SQLiteStore implements Store on a single SQLite database.
// WAL mode allows the HTTP server and CLI to read while a sync writes.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if necessary) the manifest database
// at the given path and runs schema migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, syncerrors.Wrap(syncerrors.ErrCodeStageFailed, err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, syncerrors.Wrap(syncerrors.ErrCodeManifestCorrupt, err)
	}

	// modernc's driver is not safe for concurrent writes on one
	// connection pool beyond SQLite's own locking; a single connection
	// avoids SQLITE_BUSY churn under the worker pool.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// initSchema creates the manifest tables if they don't exist.
func initSchema(db *sql.DB) error {
	schema := `
	-- Files present in the local mirror
	CREATE TABLE IF NOT EXISTS local_entries (
		course_id INTEGER NOT NULL,
		remote_id INTEGER NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		fingerprint TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT 'file',
		downloaded_at TEXT NOT NULL,
		stale INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (course_id, remote_id)
	);
	CREATE INDEX IF NOT EXISTS idx_local_entries_path ON local_entries(path);

	-- Files uploaded to a course's remote semantic index
	CREATE TABLE IF NOT EXISTS indexed_entries (
		course_id INTEGER NOT NULL,
		remote_id INTEGER NOT NULL,
		filename TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		index_file_id TEXT NOT NULL DEFAULT '',
		uploaded_at TEXT NOT NULL,
		PRIMARY KEY (course_id, remote_id)
	);

	-- Remote files the token cannot download (403/401)
	CREATE TABLE IF NOT EXISTS inaccessible (
		course_id INTEGER NOT NULL,
		remote_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 1,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		PRIMARY KEY (course_id, remote_id)
	);

	-- Course -> remote vector store mapping
	CREATE TABLE IF NOT EXISTS vector_stores (
		course_id INTEGER PRIMARY KEY,
		course_name TEXT NOT NULL DEFAULT '',
		vector_store_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Engine state key/value
	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return syncerrors.Wrap(syncerrors.ErrCodeManifestCorrupt,
			fmt.Errorf("create manifest schema: %w", err))
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- local mirror manifest ---

// UpsertLocal inserts or replaces a local mirror entry. Re-downloading
// a file clears its stale flag.
func (s *SQLiteStore) UpsertLocal(ctx context.Context, e LocalEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_entries (course_id, remote_id, path, size, fingerprint, source, downloaded_at, stale)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(course_id, remote_id) DO UPDATE SET
			path = excluded.path,
			size = excluded.size,
			fingerprint = excluded.fingerprint,
			source = excluded.source,
			downloaded_at = excluded.downloaded_at,
			stale = 0
	`, e.CourseID, e.RemoteID, e.Path, e.Size, e.Fingerprint, string(e.Source), formatTime(e.DownloadedAt))
	if err != nil {
		return fmt.Errorf("upsert local entry: %w", err)
	}
	return nil
}

// ListLocal returns every local mirror entry.
func (s *SQLiteStore) ListLocal(ctx context.Context) ([]LocalEntry, error) {
	return s.queryLocal(ctx, `
		SELECT course_id, remote_id, path, size, fingerprint, source, downloaded_at, stale
		FROM local_entries ORDER BY course_id, remote_id`)
}

// ListLocalByCourse returns the local entries for one course.
func (s *SQLiteStore) ListLocalByCourse(ctx context.Context, courseID int64) ([]LocalEntry, error) {
	return s.queryLocal(ctx, `
		SELECT course_id, remote_id, path, size, fingerprint, source, downloaded_at, stale
		FROM local_entries WHERE course_id = ? ORDER BY remote_id`, courseID)
}

func (s *SQLiteStore) queryLocal(ctx context.Context, query string, args ...any) ([]LocalEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query local entries: %w", err)
	}
	defer rows.Close()

	var entries []LocalEntry
	for rows.Next() {
		var e LocalEntry
		var source, downloadedAt string
		var stale int
		if err := rows.Scan(&e.CourseID, &e.RemoteID, &e.Path, &e.Size, &e.Fingerprint, &source, &downloadedAt, &stale); err != nil {
			return nil, fmt.Errorf("scan local entry: %w", err)
		}
		e.Source = Source(source)
		e.DownloadedAt = parseTime(downloadedAt)
		e.Stale = stale != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteLocal removes one local entry.
func (s *SQLiteStore) DeleteLocal(ctx context.Context, courseID, remoteID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM local_entries WHERE course_id = ? AND remote_id = ?`, courseID, remoteID)
	if err != nil {
		return fmt.Errorf("delete local entry: %w", err)
	}
	return nil
}

// MarkStaleByPath flags the entry with the given mirror-relative path.
func (s *SQLiteStore) MarkStaleByPath(ctx context.Context, path string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE local_entries SET stale = 1 WHERE path = ?`, path)
	if err != nil {
		return false, fmt.Errorf("mark stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- remote index manifest ---

// UpsertIndexed inserts or replaces a remote index entry.
func (s *SQLiteStore) UpsertIndexed(ctx context.Context, e IndexedEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexed_entries (course_id, remote_id, filename, fingerprint, index_file_id, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(course_id, remote_id) DO UPDATE SET
			filename = excluded.filename,
			fingerprint = excluded.fingerprint,
			index_file_id = excluded.index_file_id,
			uploaded_at = excluded.uploaded_at
	`, e.CourseID, e.RemoteID, e.Filename, e.Fingerprint, e.IndexFileID, formatTime(e.UploadedAt))
	if err != nil {
		return fmt.Errorf("upsert indexed entry: %w", err)
	}
	return nil
}

// ListIndexed returns every remote index entry.
func (s *SQLiteStore) ListIndexed(ctx context.Context) ([]IndexedEntry, error) {
	return s.queryIndexed(ctx, `
		SELECT course_id, remote_id, filename, fingerprint, index_file_id, uploaded_at
		FROM indexed_entries ORDER BY course_id, remote_id`)
}

// ListIndexedByCourse returns the indexed entries for one course.
func (s *SQLiteStore) ListIndexedByCourse(ctx context.Context, courseID int64) ([]IndexedEntry, error) {
	return s.queryIndexed(ctx, `
		SELECT course_id, remote_id, filename, fingerprint, index_file_id, uploaded_at
		FROM indexed_entries WHERE course_id = ? ORDER BY remote_id`, courseID)
}

func (s *SQLiteStore) queryIndexed(ctx context.Context, query string, args ...any) ([]IndexedEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query indexed entries: %w", err)
	}
	defer rows.Close()

	var entries []IndexedEntry
	for rows.Next() {
		var e IndexedEntry
		var uploadedAt string
		if err := rows.Scan(&e.CourseID, &e.RemoteID, &e.Filename, &e.Fingerprint, &e.IndexFileID, &uploadedAt); err != nil {
			return nil, fmt.Errorf("scan indexed entry: %w", err)
		}
		e.UploadedAt = parseTime(uploadedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteIndexed removes one remote index entry.
func (s *SQLiteStore) DeleteIndexed(ctx context.Context, courseID, remoteID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM indexed_entries WHERE course_id = ? AND remote_id = ?`, courseID, remoteID)
	if err != nil {
		return fmt.Errorf("delete indexed entry: %w", err)
	}
	return nil
}

// --- inaccessible ledger ---

// MarkInaccessible records a failed download. Repeated failures bump
// the attempt counter and last_seen, keeping the original first_seen.
func (s *SQLiteStore) MarkInaccessible(ctx context.Context, rec InaccessibleRecord) error {
	now := formatTime(rec.LastSeen)
	first := formatTime(rec.FirstSeen)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inaccessible (course_id, remote_id, name, reason, attempts, first_seen, last_seen)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(course_id, remote_id) DO UPDATE SET
			name = excluded.name,
			reason = excluded.reason,
			attempts = attempts + 1,
			last_seen = excluded.last_seen
	`, rec.CourseID, rec.RemoteID, rec.Name, rec.Reason, first, now)
	if err != nil {
		return fmt.Errorf("mark inaccessible: %w", err)
	}
	return nil
}

// ListInaccessible returns the whole inaccessible ledger.
func (s *SQLiteStore) ListInaccessible(ctx context.Context) ([]InaccessibleRecord, error) {
	return s.queryInaccessible(ctx, `
		SELECT course_id, remote_id, name, reason, attempts, first_seen, last_seen
		FROM inaccessible ORDER BY course_id, remote_id`)
}

// ListInaccessibleByCourse returns the ledger entries for one course.
func (s *SQLiteStore) ListInaccessibleByCourse(ctx context.Context, courseID int64) ([]InaccessibleRecord, error) {
	return s.queryInaccessible(ctx, `
		SELECT course_id, remote_id, name, reason, attempts, first_seen, last_seen
		FROM inaccessible WHERE course_id = ? ORDER BY remote_id`, courseID)
}

func (s *SQLiteStore) queryInaccessible(ctx context.Context, query string, args ...any) ([]InaccessibleRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inaccessible: %w", err)
	}
	defer rows.Close()

	var records []InaccessibleRecord
	for rows.Next() {
		var r InaccessibleRecord
		var first, last string
		if err := rows.Scan(&r.CourseID, &r.RemoteID, &r.Name, &r.Reason, &r.Attempts, &first, &last); err != nil {
			return nil, fmt.Errorf("scan inaccessible: %w", err)
		}
		r.FirstSeen = parseTime(first)
		r.LastSeen = parseTime(last)
		records = append(records, r)
	}
	return records, rows.Err()
}

// ResetInaccessible clears the ledger for one course so the next sync
// re-attempts those files. Returns the number of records cleared.
func (s *SQLiteStore) ResetInaccessible(ctx context.Context, courseID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM inaccessible WHERE course_id = ?`, courseID)
	if err != nil {
		return 0, fmt.Errorf("reset inaccessible: %w", err)
	}
	return res.RowsAffected()
}

// ResetAllInaccessible clears the whole ledger.
func (s *SQLiteStore) ResetAllInaccessible(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inaccessible`)
	if err != nil {
		return 0, fmt.Errorf("reset inaccessible: %w", err)
	}
	return res.RowsAffected()
}

// --- vector store mapping ---

// SetVectorStore records the remote index created for a course.
func (s *SQLiteStore) SetVectorStore(ctx context.Context, rec VectorStoreRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vector_stores (course_id, course_name, vector_store_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(course_id) DO UPDATE SET
			course_name = excluded.course_name,
			vector_store_id = excluded.vector_store_id
	`, rec.CourseID, rec.CourseName, rec.VectorStoreID, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("set vector store: %w", err)
	}
	return nil
}

// GetVectorStore returns the mapping for a course, or nil if absent.
func (s *SQLiteStore) GetVectorStore(ctx context.Context, courseID int64) (*VectorStoreRecord, error) {
	var rec VectorStoreRecord
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT course_id, course_name, vector_store_id, created_at
		FROM vector_stores WHERE course_id = ?`, courseID).
		Scan(&rec.CourseID, &rec.CourseName, &rec.VectorStoreID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector store: %w", err)
	}
	rec.CreatedAt = parseTime(createdAt)
	return &rec, nil
}

// ListVectorStores returns every course -> index mapping.
func (s *SQLiteStore) ListVectorStores(ctx context.Context) ([]VectorStoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT course_id, course_name, vector_store_id, created_at
		FROM vector_stores ORDER BY course_id`)
	if err != nil {
		return nil, fmt.Errorf("query vector stores: %w", err)
	}
	defer rows.Close()

	var records []VectorStoreRecord
	for rows.Next() {
		var rec VectorStoreRecord
		var createdAt string
		if err := rows.Scan(&rec.CourseID, &rec.CourseName, &rec.VectorStoreID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan vector store: %w", err)
		}
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- engine state ---

// SetState writes a state key.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// GetState reads a state key. Missing keys return "".
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
