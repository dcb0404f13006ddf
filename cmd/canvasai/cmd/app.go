package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Deyu-Zhang/canvas-ai/internal/canvas"
	"github.com/Deyu-Zhang/canvas-ai/internal/config"
	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
	"github.com/Deyu-Zhang/canvas-ai/internal/inventory"
	"github.com/Deyu-Zhang/canvas-ai/internal/mirror"
	"github.com/Deyu-Zhang/canvas-ai/internal/search"
	"github.com/Deyu-Zhang/canvas-ai/internal/store"
	canvassync "github.com/Deyu-Zhang/canvas-ai/internal/sync"
	"github.com/Deyu-Zhang/canvas-ai/internal/tracker"
	"github.com/Deyu-Zhang/canvas-ai/internal/ui"
	"github.com/Deyu-Zhang/canvas-ai/internal/vectorstore"
)

// app bundles the wired engine components behind one constructor so
// each command does not repeat the assembly.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	mirror   *mirror.Store
	client   *canvas.Client
	fetcher  *inventory.Fetcher
	tracker  *tracker.Tracker
	search   *search.Index
	orch     *canvassync.Orchestrator
	renderer *ui.Renderer

	closers []func()
}

type appOptions struct {
	// requireIndex demands index-service credentials (sync, serve, mcp).
	requireIndex bool
	// withSearch opens the local full-text index.
	withSearch bool
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireCanvas(); err != nil {
		return nil, err
	}
	if opts.requireIndex {
		if err := cfg.RequireIndex(); err != nil {
			return nil, err
		}
	}

	logger := slog.Default()
	a := &app{cfg: cfg, logger: logger, renderer: ui.NewRenderer()}

	st, err := store.NewSQLiteStore(cfg.ManifestPath())
	if err != nil {
		return nil, fmt.Errorf("open manifest at %s: %w", dataFileHint(cfg.Paths.DataDir), err)
	}
	a.store = st
	a.closers = append(a.closers, func() { _ = st.Close() })

	a.mirror, err = mirror.NewStore(cfg.Paths.MirrorDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.client, err = canvas.NewClient(cfg.Canvas.BaseURL, cfg.Canvas.AccessToken,
		canvas.WithPageSize(cfg.Canvas.PageSize),
		canvas.WithCacheSize(cfg.Canvas.CacheSize),
		canvas.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.fetcher = inventory.NewFetcher(a.client, logger)
	a.tracker = tracker.New(st, logger)

	if opts.withSearch {
		a.search, err = search.Open(cfg.SearchIndexPath(), logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = a.search.Close() })
	}

	var indexTarget canvassync.IndexTarget
	if opts.requireIndex {
		svc, err := vectorstore.NewOpenAIService(cfg.Index.BaseURL, cfg.Index.APIKey, cfg.Index.Timeout)
		if err != nil {
			a.Close()
			return nil, err
		}
		indexTarget = vectorstore.NewUploader(svc, st, cfg.Index.MaxFileSizeMB<<20, logger)
	} else {
		indexTarget = noIndex{}
	}

	a.orch = canvassync.NewOrchestrator(canvassync.Dependencies{
		Inventory: a.fetcher,
		Content:   a.client,
		Store:     st,
		Mirror:    a.mirror,
		Tracker:   a.tracker,
		Index:     indexTarget,
		Search:    searchIndexer(a.search),
		Logger:    logger,
	}, canvassync.Options{
		Workers: cfg.Sync.Workers,
		Retry: syncerrors.RetryConfig{
			MaxRetries:   cfg.Sync.MaxRetries,
			InitialDelay: cfg.Sync.RetryDelay,
			MaxDelay:     16 * cfg.Sync.RetryDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
		Courses:       cfg.Canvas.Courses,
		DataDir:       cfg.Paths.DataDir,
		ReportHistory: cfg.Sync.ReportHistory,
	})

	return a, nil
}

// Close releases everything the app opened, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// searchIndexer keeps the orchestrator's optional indexer nil when the
// search index is disabled (a typed nil would defeat the nil check).
func searchIndexer(idx *search.Index) canvassync.TextIndexer {
	if idx == nil {
		return nil
	}
	return idx
}

// noIndex satisfies IndexTarget for commands that only plan and never
// execute uploads (status, courses, search).
type noIndex struct{}

func (noIndex) EnsureIndex(ctx context.Context, course canvas.Course) (string, error) {
	return "", fmt.Errorf("index service is not configured")
}

func (noIndex) Upload(ctx context.Context, vectorStoreID string, rf inventory.RemoteFile, content io.Reader, size int64) (vectorstore.UploadResult, error) {
	return "", fmt.Errorf("index service is not configured")
}
