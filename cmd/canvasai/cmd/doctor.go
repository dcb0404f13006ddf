package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Deyu-Zhang/canvas-ai/internal/canvas"
	"github.com/Deyu-Zhang/canvas-ai/internal/config"
	"github.com/Deyu-Zhang/canvas-ai/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		jsonOutput bool
		offline    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and diagnose sync problems",
		Long: `Run diagnostics over the local environment:

  - Canvas credentials present
  - index service credentials (warning only if missing)
  - data directory exists and is writable
  - free disk space (500MB minimum)
  - Canvas API reachable (skipped with --offline)

Exits non-zero when a required check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), jsonOutput, offline)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the Canvas connectivity check")

	return cmd
}

func runDoctor(ctx context.Context, jsonOutput, offline bool) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	// Only probe Canvas when credentials exist; the config check
	// already reports when they do not.
	var ping preflight.Pinger
	if !offline && cfg.RequireCanvas() == nil {
		client, err := canvas.NewClient(cfg.Canvas.BaseURL, cfg.Canvas.AccessToken)
		if err != nil {
			return err
		}
		ping = func(ctx context.Context) error {
			_, err := client.ListCourses(ctx)
			return err
		}
	}

	results, ok := preflight.NewChecker(cfg, ping).RunAll(ctx)

	if jsonOutput {
		out := struct {
			Checks []preflight.CheckResult `json:"checks"`
			OK     bool                    `json:"ok"`
		}{Checks: results, OK: ok}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		for _, r := range results {
			fmt.Printf("  [%s] %-18s %s\n", r.Status, r.Name, r.Message)
		}
	}

	if !ok {
		return fmt.Errorf("environment check failed")
	}
	return nil
}
