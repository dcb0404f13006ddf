// Package server exposes the sync engine over a local HTTP JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
	"github.com/Deyu-Zhang/canvas-ai/internal/plan"
	"github.com/Deyu-Zhang/canvas-ai/internal/search"
	"github.com/Deyu-Zhang/canvas-ai/internal/store"
	canvassync "github.com/Deyu-Zhang/canvas-ai/internal/sync"
	"github.com/Deyu-Zhang/canvas-ai/internal/tracker"
)

// Dependencies wires the API's collaborators. Search may be nil when
// the local full-text index is disabled.
type Dependencies struct {
	Orchestrator *canvassync.Orchestrator
	Store        store.Store
	Tracker      *tracker.Tracker
	Search       *search.Index
	Logger       *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	deps   Dependencies
	engine *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

// New builds the server and its routes.
func New(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLog(logger))

	s := &Server{deps: deps, engine: engine, logger: logger}

	api := engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/status", s.handleStatus)
	api.POST("/sync", s.handleStartSync)
	api.GET("/sync/progress", s.handleProgress)
	api.POST("/reset-inaccessible", s.handleResetInaccessible)
	api.GET("/search", s.handleSearch)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	s.logger.Info("api_server_listening", "addr", s.http.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.buildStatus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) buildStatus(ctx context.Context) (*plan.Status, error) {
	courses, p, err := s.deps.Orchestrator.BuildPlan(ctx)
	if err != nil {
		return nil, err
	}

	indexed, err := s.deps.Store.ListIndexed(ctx)
	if err != nil {
		return nil, err
	}
	vectorStores, err := s.deps.Store.ListVectorStores(ctx)
	if err != nil {
		return nil, err
	}

	hasLocalIndex := s.deps.Search != nil && s.deps.Search.DocCount() > 0

	st := plan.Snapshot(p, courses, len(indexed), len(vectorStores), hasLocalIndex)
	if at, err := s.deps.Store.GetState(ctx, store.StateLastSyncAt); err == nil {
		st.LastSyncAt = at
	}
	return &st, nil
}

func (s *Server) handleStartSync(c *gin.Context) {
	runID, err := s.deps.Orchestrator.Start(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "state": "planning"})
}

func (s *Server) handleProgress(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Orchestrator.Progress())
}

func (s *Server) handleResetInaccessible(c *gin.Context) {
	var courseID int64
	if raw := c.Query("course_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "course_id must be an integer"})
			return
		}
		courseID = id
	}

	n, err := s.deps.Tracker.Reset(c.Request.Context(), courseID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset_count": n})
}

func (s *Server) handleSearch(c *gin.Context) {
	if s.deps.Search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "local search index is disabled"})
		return
	}

	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	results, err := s.deps.Search.Search(c.Request.Context(), query, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": query, "results": results})
}

// writeError maps engine errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case syncerrors.IsAlreadyRunning(err):
		status = http.StatusConflict
	case syncerrors.IsPermissionDenied(err):
		status = http.StatusForbidden
	case syncerrors.IsNotFound(err):
		status = http.StatusNotFound
	}

	c.JSON(status, gin.H{"error": err.Error(), "code": syncerrors.GetCode(err)})
}

// requestLog logs one line per request, the same event shape the rest
// of the engine uses.
func requestLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("api_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
