// Package cmd provides the CLI commands for canvasai.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Deyu-Zhang/canvas-ai/internal/logging"
	"github.com/Deyu-Zhang/canvas-ai/internal/profiling"
	"github.com/Deyu-Zhang/canvas-ai/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()

	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// NewRootCmd creates the root command for the canvasai CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canvasai",
		Short: "Keep Canvas course files mirrored locally and searchable by AI",
		Long: `canvasai synchronizes the files of your Canvas LMS courses into a
local mirror and into per-course semantic search indexes.

A sync run fetches the remote inventory (files, pages, assignments),
downloads what is missing or changed, and uploads supported documents
to each course's vector store. Files your token cannot access are
tracked and skipped on later runs.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("canvasai version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.canvasai/logs/")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCoursesCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if err := logging.EnsureLogDir(); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg.Level = "debug"
		cfg.WriteToStderr = true
	}

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup

	if debugMode {
		slog.Debug("debug logging enabled", "log_file", logging.DefaultLogPath())
	}

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("start CPU profile: %w", err)
		}
	}
	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("start trace: %w", err)
		}
	}
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("write memory profile: %w", err)
		}
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// dataFileHint names the manifest so error messages can point at it.
func dataFileHint(dataDir string) string {
	return filepath.Join(dataDir, "manifest.db")
}
