// Package vectorstore manages per-course remote semantic indexes and
// the idempotent upload of mirrored files into them.
package vectorstore

import (
	"context"
	"io"
	"path/filepath"
	"strings"
)

// Service is the remote index provider API surface the uploader needs.
type Service interface {
	// CreateVectorStore creates a named index and returns its ID.
	CreateVectorStore(ctx context.Context, name string) (string, error)
	// UploadFile uploads raw content and returns the provider file ID.
	UploadFile(ctx context.Context, filename string, content io.Reader) (string, error)
	// AttachFile links an uploaded file into an index.
	AttachFile(ctx context.Context, vectorStoreID, fileID string) error
	// DetachFile removes a file from an index and deletes it.
	DetachFile(ctx context.Context, vectorStoreID, fileID string) error
}

// supportedExtensions are the formats the index service can ingest.
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".doc":  true,
	".docx": true,
	".ppt":  true,
	".pptx": true,
	".xls":  true,
	".xlsx": true,
	".json": true,
	".csv":  true,
	".html": true,
}

// SupportedFormat reports whether the filename's extension can be
// ingested by the index service.
func SupportedFormat(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}
