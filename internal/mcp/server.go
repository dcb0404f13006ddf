// Package mcp exposes the sync engine to AI clients over the Model
// Context Protocol. Tools cover status inspection, starting syncs,
// resetting the inaccessible list and local keyword search.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
	"github.com/Deyu-Zhang/canvas-ai/internal/plan"
	"github.com/Deyu-Zhang/canvas-ai/internal/search"
	"github.com/Deyu-Zhang/canvas-ai/internal/store"
	canvassync "github.com/Deyu-Zhang/canvas-ai/internal/sync"
	"github.com/Deyu-Zhang/canvas-ai/internal/tracker"
	"github.com/Deyu-Zhang/canvas-ai/pkg/version"
)

// Server bridges AI clients with the sync engine.
type Server struct {
	mcp     *mcp.Server
	orch    *canvassync.Orchestrator
	store   store.Store
	tracker *tracker.Tracker
	search  *search.Index // may be nil
	logger  *slog.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(orch *canvassync.Orchestrator, st store.Store, tr *tracker.Tracker, idx *search.Index, logger *slog.Logger) (*Server, error) {
	if orch == nil {
		return nil, errors.New("orchestrator is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		orch:    orch,
		store:   st,
		tracker: tr,
		search:  idx,
		logger:  logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "canvasai",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over stdio until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", "transport", "stdio")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp_server_stopped", "error", err)
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_status",
		Description: "Report how the Canvas inventory, local mirror and course indexes line up: file counts, missing files per course, tracked-inaccessible files, and when the last sync ran.",
	}, s.syncStatusHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "start_sync",
		Description: "Start a background sync run that downloads missing or changed course files and uploads them to the per-course indexes. Returns immediately with a run ID; poll sync_progress for completion.",
	}, s.startSyncHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_progress",
		Description: "Report the state of the current or most recent sync run: counts of downloaded, uploaded, skipped and failed files.",
	}, s.syncProgressHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reset_inaccessible",
		Description: "Clear the tracked-inaccessible list so previously forbidden files are retried on the next sync. Use after course permissions change.",
	}, s.resetInaccessibleHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_files",
		Description: "Keyword search over locally mirrored course content. Works offline against the local full-text index.",
	}, s.searchFilesHandler)

	s.logger.Debug("mcp_tools_registered", "count", 5)
}

// StatusInput is the (empty) input for the sync_status tool.
type StatusInput struct{}

func (s *Server) syncStatusHandler(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
	*mcp.CallToolResult,
	plan.Status,
	error,
) {
	courses, p, err := s.orch.BuildPlan(ctx)
	if err != nil {
		return nil, plan.Status{}, err
	}

	indexed, err := s.store.ListIndexed(ctx)
	if err != nil {
		return nil, plan.Status{}, err
	}
	vectorStores, err := s.store.ListVectorStores(ctx)
	if err != nil {
		return nil, plan.Status{}, err
	}

	hasLocalIndex := s.search != nil && s.search.DocCount() > 0
	st := plan.Snapshot(p, courses, len(indexed), len(vectorStores), hasLocalIndex)
	if at, err := s.store.GetState(ctx, store.StateLastSyncAt); err == nil {
		st.LastSyncAt = at
	}
	return nil, st, nil
}

// StartSyncInput is the (empty) input for the start_sync tool.
type StartSyncInput struct{}

// StartSyncOutput reports the launched run.
type StartSyncOutput struct {
	RunID   string `json:"run_id,omitempty" jsonschema:"identifier of the launched sync run"`
	Started bool   `json:"started" jsonschema:"whether a new run was started"`
	Message string `json:"message" jsonschema:"human-readable outcome"`
}

func (s *Server) startSyncHandler(ctx context.Context, req *mcp.CallToolRequest, input StartSyncInput) (
	*mcp.CallToolResult,
	StartSyncOutput,
	error,
) {
	runID, err := s.orch.Start(ctx)
	if err != nil {
		if syncerrors.IsAlreadyRunning(err) {
			return nil, StartSyncOutput{
				Started: false,
				Message: "a sync run is already in progress; poll sync_progress",
			}, nil
		}
		return nil, StartSyncOutput{}, err
	}

	return nil, StartSyncOutput{
		RunID:   runID,
		Started: true,
		Message: "sync started; poll sync_progress for completion",
	}, nil
}

// ProgressInput is the (empty) input for the sync_progress tool.
type ProgressInput struct{}

func (s *Server) syncProgressHandler(ctx context.Context, req *mcp.CallToolRequest, input ProgressInput) (
	*mcp.CallToolResult,
	canvassync.Snapshot,
	error,
) {
	return nil, s.orch.Progress(), nil
}

// ResetInput selects what to reset.
type ResetInput struct {
	CourseID int64 `json:"course_id,omitempty" jsonschema:"reset only this course; 0 or omitted resets all courses"`
}

// ResetOutput reports how many records were cleared.
type ResetOutput struct {
	ResetCount int64  `json:"reset_count" jsonschema:"number of inaccessible records cleared"`
	Message    string `json:"message" jsonschema:"human-readable outcome"`
}

func (s *Server) resetInaccessibleHandler(ctx context.Context, req *mcp.CallToolRequest, input ResetInput) (
	*mcp.CallToolResult,
	ResetOutput,
	error,
) {
	n, err := s.tracker.Reset(ctx, input.CourseID)
	if err != nil {
		return nil, ResetOutput{}, err
	}

	return nil, ResetOutput{
		ResetCount: n,
		Message:    fmt.Sprintf("cleared %d inaccessible record(s); they will be retried on the next sync", n),
	}, nil
}

// SearchInput is the input for the search_files tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the keyword query to run against mirrored course content"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchOutput is the result list for the search_files tool.
type SearchOutput struct {
	Results []search.Result `json:"results" jsonschema:"matching mirrored files ordered by relevance"`
}

func (s *Server) searchFilesHandler(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if s.search == nil {
		return nil, SearchOutput{}, errors.New("local search index is disabled")
	}
	if input.Query == "" {
		return nil, SearchOutput{}, errors.New("query parameter is required")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	results, err := s.search.Search(ctx, input.Query, limit)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, SearchOutput{Results: results}, nil
}
