// Package main provides the entry point for the canvasai CLI.
package main

import (
	"os"

	"github.com/Deyu-Zhang/canvas-ai/cmd/canvasai/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
