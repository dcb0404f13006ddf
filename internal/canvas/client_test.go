package canvas

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, "test-token")
	require.NoError(t, err)
	return client, srv
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient("", "tok")
	assert.Error(t, err)

	_, err = NewClient("https://canvas.example.edu", "")
	assert.Error(t, err)
}

func TestListCourses_SendsAuthAndFilters(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "active", r.URL.Query().Get("enrollment_state"))
		fmt.Fprint(w, `[
			{"id": 1, "name": "Algorithms", "course_code": "CS101"},
			{"id": 2, "name": "", "course_code": ""}
		]`)
	}))

	courses, err := client.ListCourses(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	// Nameless restricted enrollments are dropped.
	require.Len(t, courses, 1)
	assert.Equal(t, int64(1), courses[0].ID)
	assert.Equal(t, "Algorithms", courses[0].Name)
}

func TestListFiles_FollowsLinkHeaderPagination(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/42/files", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses/42/files?page=2>; rel="next", <%s/api/v1/courses/42/files?page=2>; rel="last"`, srv.URL, srv.URL))
			fmt.Fprint(w, `[{"id": 10, "display_name": "a.pdf", "size": 100}]`)
		case "2":
			fmt.Fprint(w, `[{"id": 11, "display_name": "b.pdf", "size": 200}]`)
		default:
			http.NotFound(w, r)
		}
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(srv.URL, "tok")
	require.NoError(t, err)

	files, err := client.ListFiles(context.Background(), 42)
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, int64(10), files[0].ID)
	assert.Equal(t, int64(11), files[1].ID)
}

func TestDoGet_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "403 maps to permission denied",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				assert.True(t, syncerrors.IsPermissionDenied(err))
				assert.False(t, syncerrors.IsRetryable(err))
			},
		},
		{
			name:   "401 maps to permission denied",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.True(t, syncerrors.IsPermissionDenied(err))
			},
		},
		{
			name:   "404 maps to not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				assert.True(t, syncerrors.IsNotFound(err))
			},
		},
		{
			name:   "429 is retryable",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				assert.Equal(t, syncerrors.ErrCodeRateLimited, syncerrors.GetCode(err))
				assert.True(t, syncerrors.IsRetryable(err))
			},
		},
		{
			name:   "503 is retryable",
			status: http.StatusServiceUnavailable,
			check: func(t *testing.T, err error) {
				assert.Equal(t, syncerrors.ErrCodeRemoteUnavailable, syncerrors.GetCode(err))
				assert.True(t, syncerrors.IsRetryable(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			_, err := client.ListCourses(context.Background())
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestDoGet_CachesTerminalPages(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `[{"id": 1, "name": "Algo", "course_code": "CS101"}]`)
	}))

	_, err := client.ListCourses(context.Background())
	require.NoError(t, err)
	_, err = client.ListCourses(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second call should be served from cache")
}

func TestGetPage_FetchesBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/courses/7/pages/week-1", r.URL.Path)
		fmt.Fprint(w, `{"url": "week-1", "title": "Week 1", "body": "<p>hello</p>"}`)
	}))

	page, err := client.GetPage(context.Background(), 7, "week-1")
	require.NoError(t, err)
	assert.Equal(t, "Week 1", page.Title)
	assert.Equal(t, "<p>hello</p>", page.Body)
}

func TestDownload_StreamsContent(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/download/10" {
			fmt.Fprint(w, "file-bytes")
			return
		}
		http.NotFound(w, r)
	}))

	rc, err := client.Download(context.Background(), srv.URL+"/download/10")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "file-bytes", string(data))
}

func TestDownload_Forbidden(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := client.Download(context.Background(), srv.URL+"/download/10")
	require.Error(t, err)
	assert.True(t, syncerrors.IsPermissionDenied(err))
}

func TestCircuitBreaker_OpensAfterServerErrors(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	// Cache would not interfere: error responses are never cached.

	for i := 0; i < 6; i++ {
		_, _ = client.ListCourses(context.Background())
	}

	// After the breaker opens, requests fail fast without hitting the server.
	before := calls
	_, err := client.ListCourses(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, calls)
}

func TestParseLinkHeader(t *testing.T) {
	header := `<https://c.edu/api/v1/courses?page=2&per_page=10>; rel="next", <https://c.edu/api/v1/courses?page=1&per_page=10>; rel="first"`

	links := parseLinkHeader(header)

	assert.Equal(t, "https://c.edu/api/v1/courses?page=2&per_page=10", links["next"])
	assert.Equal(t, "https://c.edu/api/v1/courses?page=1&per_page=10", links["first"])
	assert.Empty(t, parseLinkHeader(""))
}
