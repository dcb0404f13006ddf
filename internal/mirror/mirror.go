// Package mirror manages the on-disk mirror of course files.
//
// All writes are staged: content goes to a temp file in the target
// directory, is fsynced, then renamed into place. A crashed sync never
// leaves a truncated file at a final path.
package mirror

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
)

// Store writes and removes files under a single mirror root.
// Concurrent writers to the same relative path are serialized.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a mirror store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, syncerrors.Wrap(syncerrors.ErrCodeStageFailed, err)
	}
	return &Store{
		root:  dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the mirror root directory.
func (s *Store) Root() string {
	return s.root
}

// Abs returns the absolute path for a mirror-relative path.
func (s *Store) Abs(relPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(relPath))
}

// pathLock returns the mutex guarding one relative path.
func (s *Store) pathLock(relPath string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[relPath]
	if !ok {
		l = &sync.Mutex{}
		s.locks[relPath] = l
	}
	return l
}

// Write stages r into the mirror at relPath and atomically renames it
// into place. Returns the number of bytes written.
func (s *Store) Write(relPath string, r io.Reader) (int64, error) {
	l := s.pathLock(relPath)
	l.Lock()
	defer l.Unlock()

	final := s.Abs(relPath)
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, syncerrors.Wrap(syncerrors.ErrCodeStageFailed, err)
	}

	// Stage in the same directory so the rename is atomic.
	tmp, err := os.CreateTemp(dir, ".staging-*")
	if err != nil {
		return 0, syncerrors.Wrap(syncerrors.ErrCodeStageFailed, err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return 0, syncerrors.Wrap(syncerrors.ErrCodeStageFailed,
			fmt.Errorf("stage %s: %w", relPath, err))
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return 0, syncerrors.Wrap(syncerrors.ErrCodeStageFailed, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, syncerrors.Wrap(syncerrors.ErrCodeStageFailed, err)
	}

	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return 0, syncerrors.Wrap(syncerrors.ErrCodeStageFailed,
			fmt.Errorf("promote %s: %w", relPath, err))
	}

	return n, nil
}

// WriteBytes is a convenience wrapper around Write.
func (s *Store) WriteBytes(relPath string, data []byte) (int64, error) {
	return s.Write(relPath, strings.NewReader(string(data)))
}

// Remove deletes a mirrored file. Missing files are not an error.
// Empty parent directories are pruned up to the mirror root.
func (s *Store) Remove(relPath string) error {
	l := s.pathLock(relPath)
	l.Lock()
	defer l.Unlock()

	final := s.Abs(relPath)
	if err := os.Remove(final); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return syncerrors.Wrap(syncerrors.ErrCodeStageFailed, err)
	}

	// Prune now-empty parents, stopping at the root.
	dir := filepath.Dir(final)
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			break // not empty or not removable
		}
		dir = filepath.Dir(dir)
	}

	return nil
}

// Stat reports whether relPath exists in the mirror and its size.
func (s *Store) Stat(relPath string) (exists bool, size int64) {
	info, err := os.Stat(s.Abs(relPath))
	if err != nil || info.IsDir() {
		return false, 0
	}
	return true, info.Size()
}

// Open opens a mirrored file for reading.
func (s *Store) Open(relPath string) (*os.File, error) {
	f, err := os.Open(s.Abs(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syncerrors.New(syncerrors.ErrCodeFileNotFound,
				fmt.Sprintf("not mirrored: %s", relPath), nil)
		}
		return nil, syncerrors.Wrap(syncerrors.ErrCodeStageFailed, err)
	}
	return f, nil
}

// Walk visits every regular file in the mirror, calling fn with the
// mirror-relative slash-separated path. Staging temp files are skipped.
func (s *Store) Walk(fn func(relPath string, size int64) error) error {
	return filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".staging-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info.Size())
	})
}
