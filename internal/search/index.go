// Package search maintains the local full-text index over mirrored
// course content. It is a convenience layer on top of the mirror: the
// remote per-course indexes answer semantic queries, this one answers
// fast keyword queries offline.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	_ "github.com/blevesearch/bleve/v2/search/highlight/highlighter/ansi"

	"github.com/Deyu-Zhang/canvas-ai/internal/inventory"
)

// Document is the shape indexed per mirrored file. The document ID is
// the mirror-relative path.
type Document struct {
	CourseID int64  `json:"course_id"`
	Name     string `json:"name"`
	Content  string `json:"content"`
}

// Result is one search hit.
type Result struct {
	Path      string   `json:"path"`
	Score     float64  `json:"score"`
	Fragments []string `json:"fragments,omitempty"`
}

// Index wraps a Bleve index stored under one directory.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
	logger *slog.Logger
}

// Open opens the index at path, creating it if absent. A corrupted
// index is cleared and recreated; reindexing happens on the next sync.
func Open(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping())
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}

		if verr := validateIntegrity(path); verr != nil {
			logger.Warn("search_index_corrupted", "path", path, "error", verr)
			if rerr := os.RemoveAll(path); rerr != nil {
				return nil, fmt.Errorf("clear corrupted index at %s: %w", path, rerr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping())
		} else if err != nil && isCorruptionError(err) {
			logger.Warn("search_index_open_failed", "path", path, "error", err)
			if rerr := os.RemoveAll(path); rerr != nil {
				return nil, fmt.Errorf("clear corrupted index at %s: %w", path, rerr)
			}
			idx, err = bleve.New(path, indexMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}

	return &Index{index: idx, path: path, logger: logger}, nil
}

func indexMapping() *mapping.IndexMappingImpl {
	return bleve.NewIndexMapping()
}

// validateIntegrity rejects an index directory whose metadata is
// missing or unparseable before Bleve tries to open it.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return err
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// IndexContent indexes one mirrored file's content. HTML is stripped
// to text first. Satisfies the orchestrator's TextIndexer.
func (i *Index) IndexContent(rf inventory.RemoteFile, content []byte) error {
	text := string(content)
	if strings.HasSuffix(rf.Path, ".html") {
		text = StripHTML(text)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return fmt.Errorf("search index is closed")
	}

	return i.index.Index(rf.Path, Document{
		CourseID: rf.CourseID,
		Name:     rf.Name,
		Content:  text,
	})
}

// Remove deletes documents by mirror-relative path.
func (i *Index) Remove(paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return fmt.Errorf("search index is closed")
	}

	batch := i.index.NewBatch()
	for _, p := range paths {
		batch.Delete(p)
	}
	return i.index.Batch(batch)
}

// Search runs a keyword query and returns up to limit hits with
// highlighted fragments.
func (i *Index) Search(ctx context.Context, queryStr string, limit int) ([]Result, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return nil, fmt.Errorf("search index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	query := bleve.NewMatchQuery(queryStr)
	req := bleve.NewSearchRequest(query)
	req.Size = limit
	req.Highlight = bleve.NewHighlightWithStyle("ansi")
	req.Highlight.AddField("content")

	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := Result{Path: hit.ID, Score: hit.Score}
		if frags, ok := hit.Fragments["content"]; ok {
			r.Fragments = frags
		}
		results = append(results, r)
	}
	return results, nil
}

// DocCount returns the number of indexed documents.
func (i *Index) DocCount() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return 0
	}
	n, _ := i.index.DocCount()
	return n
}

// Close releases the index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	return i.index.Close()
}

var tagRe = regexp.MustCompile(`(?s)<[^>]*>`)

// StripHTML reduces an HTML body to whitespace-normalized text.
func StripHTML(s string) string {
	text := tagRe.ReplaceAllString(s, " ")
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}
