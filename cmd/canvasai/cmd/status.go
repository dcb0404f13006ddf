package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Deyu-Zhang/canvas-ai/internal/plan"
	"github.com/Deyu-Zhang/canvas-ai/internal/store"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how the mirror and indexes line up with Canvas",
		Long: `Compare the current Canvas inventory against the local mirror and
the per-course index manifests, and report what a sync would do:
missing files per course, changed files, files tracked as
inaccessible, and index entries whose remote file disappeared.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, jsonOutput bool) error {
	a, err := newApp(appOptions{withSearch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	courses, p, err := a.orch.BuildPlan(ctx)
	if err != nil {
		return err
	}

	indexed, err := a.store.ListIndexed(ctx)
	if err != nil {
		return err
	}
	vectorStores, err := a.store.ListVectorStores(ctx)
	if err != nil {
		return err
	}

	hasLocalIndex := a.search != nil && a.search.DocCount() > 0
	st := plan.Snapshot(p, courses, len(indexed), len(vectorStores), hasLocalIndex)
	if at, err := a.store.GetState(ctx, store.StateLastSyncAt); err == nil {
		st.LastSyncAt = at
	}

	if jsonOutput {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Print(a.renderer.Status(st))
	return nil
}
