package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Deyu-Zhang/canvas-ai/internal/server"
	"github.com/Deyu-Zhang/canvas-ai/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API server",
		Long: `Serve the sync engine over a local HTTP JSON API:

  GET  /api/health              liveness probe
  GET  /api/status              reconciliation status
  POST /api/sync                start a background sync run
  GET  /api/sync/progress       progress of the current run
  POST /api/reset-inaccessible  retry previously denied files
  GET  /api/search?q=...        local keyword search

When the mirror watcher is enabled in the configuration, out-of-band
edits to mirrored files are detected and re-downloaded on the next
sync.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default from config)")

	return cmd
}

func runServe(ctx context.Context, host string, port int) error {
	a, err := newApp(appOptions{requireIndex: true, withSearch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Watcher.Enabled {
		w, err := watcher.New(a.cfg.Paths.MirrorDir, a.store, a.cfg.Watcher.Debounce, a.logger)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	if host == "" {
		host = a.cfg.Server.Host
	}
	if port == 0 {
		port = a.cfg.Server.Port
	}

	srv := server.New(server.Dependencies{
		Orchestrator: a.orch,
		Store:        a.store,
		Tracker:      a.tracker,
		Search:       a.search,
		Logger:       a.logger,
	})
	return srv.ListenAndServe(ctx, host, port)
}
