package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	var courseID int64

	cmd := &cobra.Command{
		Use:   "reset-inaccessible",
		Short: "Retry files previously marked inaccessible",
		Long: `Clear the tracked-inaccessible list so the next sync retries files
that were previously denied. Use after your course enrollment or
token permissions change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd.Context(), courseID)
		},
	}

	cmd.Flags().Int64Var(&courseID, "course", 0, "Reset only this course ID (0 = all)")

	return cmd
}

func runReset(ctx context.Context, courseID int64) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.tracker.Reset(ctx, courseID)
	if err != nil {
		return err
	}

	if n == 0 {
		fmt.Println("No inaccessible files were tracked.")
		return nil
	}
	fmt.Printf("Cleared %d record(s); they will be retried on the next sync.\n", n)
	return nil
}
