package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Keyword search over mirrored course content",
		Long: `Search the local full-text index built from mirrored text content
(pages, assignments, markdown, CSV). Works offline; run 'canvasai sync'
first to populate the index.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), strings.Join(args, " "), limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")

	return cmd
}

func runSearch(ctx context.Context, query string, limit int) error {
	a, err := newApp(appOptions{withSearch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.search.DocCount() == 0 {
		return fmt.Errorf("the local search index is empty; run 'canvasai sync' first")
	}

	results, err := a.search.Search(ctx, query, limit)
	if err != nil {
		return err
	}

	fmt.Print(a.renderer.SearchResults(query, results))
	return nil
}
