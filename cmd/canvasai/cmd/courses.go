package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCoursesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "courses",
		Short: "List the active Canvas courses the token can see",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCourses(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runCourses(ctx context.Context, jsonOutput bool) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	courses, err := a.fetcher.Courses(ctx, a.cfg.Canvas.Courses)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(courses, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(courses) == 0 {
		fmt.Println("No active courses found.")
		return nil
	}
	for _, c := range courses {
		fmt.Printf("%8d  %s\n", c.ID, c.Name)
	}
	return nil
}
