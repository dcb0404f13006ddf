package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Deyu-Zhang/canvas-ai/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: `Create ~/.config/canvasai/config.yaml with documented defaults.
Credentials are read from the CANVAS_ACCESS_TOKEN and OPENAI_API_KEY
environment variables; set canvas.base_url in the generated file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config (a backup is kept)")

	return cmd
}

func runInit(force bool) error {
	path := config.GetUserConfigPath()

	if fileExists(path) {
		if !force {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
		backup, err := config.BackupUserConfig()
		if err != nil {
			return fmt.Errorf("backup existing config: %w", err)
		}
		fmt.Printf("Existing config backed up to %s\n", backup)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	cfg := config.NewConfig()
	if err := cfg.WriteYAML(path); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n\nNext steps:\n", path)
	fmt.Println("  1. Set canvas.base_url to your Canvas instance")
	fmt.Println("  2. Export CANVAS_ACCESS_TOKEN with a Canvas API token")
	fmt.Println("  3. Export OPENAI_API_KEY for the semantic indexes")
	fmt.Println("  4. Run 'canvasai sync'")
	return nil
}
