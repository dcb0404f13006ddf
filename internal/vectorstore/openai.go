package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
)

// DefaultBaseURL is the OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

// OpenAIService implements Service against the OpenAI vector stores API.
type OpenAIService struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Service = (*OpenAIService)(nil)

// NewOpenAIService creates a Service backed by the OpenAI API.
func NewOpenAIService(baseURL, apiKey string, timeout time.Duration) (*OpenAIService, error) {
	if apiKey == "" {
		return nil, syncerrors.New(syncerrors.ErrCodeConfigInvalid, "index service API key is empty", nil)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &OpenAIService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// CreateVectorStore creates a named vector store.
func (s *OpenAIService) CreateVectorStore(ctx context.Context, name string) (string, error) {
	payload, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", syncerrors.Wrap(syncerrors.ErrCodeInternal, err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/vector_stores", bytes.NewReader(payload), "application/json", &result); err != nil {
		return "", syncerrors.Wrap(syncerrors.ErrCodeIndexCreateFailed, err)
	}
	if result.ID == "" {
		return "", syncerrors.New(syncerrors.ErrCodeIndexCreateFailed, "index service returned no id", nil)
	}
	return result.ID, nil
}

// UploadFile uploads content with purpose=assistants.
func (s *OpenAIService) UploadFile(ctx context.Context, filename string, content io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", syncerrors.Wrap(syncerrors.ErrCodeInternal, err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", syncerrors.Wrap(syncerrors.ErrCodeInternal, err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", syncerrors.Wrap(syncerrors.ErrCodeUploadFailed, err)
	}
	if err := mw.Close(); err != nil {
		return "", syncerrors.Wrap(syncerrors.ErrCodeInternal, err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/files", &body, mw.FormDataContentType(), &result); err != nil {
		return "", syncerrors.Wrap(syncerrors.ErrCodeUploadFailed,
			fmt.Errorf("upload %s: %w", filename, err))
	}
	if result.ID == "" {
		return "", syncerrors.New(syncerrors.ErrCodeUploadFailed, "index service returned no file id", nil)
	}
	return result.ID, nil
}

// AttachFile links an uploaded file into a vector store.
func (s *OpenAIService) AttachFile(ctx context.Context, vectorStoreID, fileID string) error {
	payload, err := json.Marshal(map[string]string{"file_id": fileID})
	if err != nil {
		return syncerrors.Wrap(syncerrors.ErrCodeInternal, err)
	}

	path := fmt.Sprintf("/vector_stores/%s/files", vectorStoreID)
	if err := s.doJSON(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json", nil); err != nil {
		return syncerrors.Wrap(syncerrors.ErrCodeUploadFailed, err)
	}
	return nil
}

// DetachFile removes a file from a vector store, then deletes the file
// object itself. A 404 on either step is treated as already done.
func (s *OpenAIService) DetachFile(ctx context.Context, vectorStoreID, fileID string) error {
	path := fmt.Sprintf("/vector_stores/%s/files/%s", vectorStoreID, fileID)
	if err := s.doJSON(ctx, http.MethodDelete, path, nil, "", nil); err != nil && !syncerrors.IsNotFound(err) {
		return syncerrors.Wrap(syncerrors.ErrCodeUploadFailed, err)
	}

	if err := s.doJSON(ctx, http.MethodDelete, "/files/"+fileID, nil, "", nil); err != nil && !syncerrors.IsNotFound(err) {
		return syncerrors.Wrap(syncerrors.ErrCodeUploadFailed, err)
	}
	return nil
}

// doJSON performs one authenticated request and decodes the response
// into out (if non-nil).
func (s *OpenAIService) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return syncerrors.Wrap(syncerrors.ErrCodeRemoteTimeout, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return syncerrors.Wrap(syncerrors.ErrCodeRemoteUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return syncerrors.PermissionDenied(fmt.Sprintf("index service returned %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound:
		return syncerrors.New(syncerrors.ErrCodeRemoteNotFound,
			fmt.Sprintf("index service returned 404 for %s", path), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return syncerrors.New(syncerrors.ErrCodeRateLimited, "index service rate limit exceeded", nil)
	case resp.StatusCode >= 500:
		return syncerrors.New(syncerrors.ErrCodeRemoteUnavailable,
			fmt.Sprintf("index service returned %d", resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return fmt.Errorf("index service returned %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode index service response: %w", err)
		}
	}
	return nil
}
