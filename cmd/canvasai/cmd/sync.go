package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
)

func newSyncCmd() *cobra.Command {
	var jsonOutput bool
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download missing course files and index them",
		Long: `Fetch the remote inventory, download files that are missing locally
or changed on Canvas, and upload supported documents to each course's
vector store. Safe to interrupt and re-run: completed work is kept and
a second run picks up where the first left off.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), jsonOutput, watch)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the run summary as JSON")
	cmd.Flags().BoolVar(&watch, "progress", true, "Show live progress while syncing")

	return cmd
}

func runSync(ctx context.Context, jsonOutput, watch bool) error {
	a, err := newApp(appOptions{requireIndex: true, withSearch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	done := make(chan struct{})
	if watch && !jsonOutput {
		go func() {
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					snap := a.orch.Progress()
					if snap.IsRunning {
						fmt.Printf("\r\033[K%s", a.renderer.Progress(snap))
					}
				}
			}
		}()
	}

	summary, err := a.orch.Run(ctx)
	close(done)
	if watch && !jsonOutput {
		fmt.Print("\r\033[K")
	}
	if err != nil {
		if syncerrors.IsAlreadyRunning(err) {
			return fmt.Errorf("another sync is already running for this data directory")
		}
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Print(a.renderer.Summary(summary))
	return nil
}
