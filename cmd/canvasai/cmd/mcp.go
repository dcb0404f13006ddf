package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Deyu-Zhang/canvas-ai/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server over stdio",
		Long: `Expose the sync engine to AI clients over the Model Context
Protocol. Register canvasai as an MCP server and the client gains the
sync_status, start_sync, sync_progress, reset_inaccessible and
search_files tools.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd.Context())
		},
	}

	return cmd
}

func runMCP(ctx context.Context) error {
	a, err := newApp(appOptions{requireIndex: true, withSearch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := mcp.NewServer(a.orch, a.store, a.tracker, a.search, a.logger)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}
